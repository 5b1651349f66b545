package semantic

import "context"

// Payload keys shared by ingestion, retrieval and episodic memory.
const (
	KeyRecordID    = "record_id"
	KeyChatText    = "chat_text"
	KeyRole        = "role"
	KeyTimestamp   = "source_timestamp"
	KeyLocation    = "location"
	KeyFilename    = "filename"
	KeyFilePath    = "file_path"
	KeyDescription = "description"
	KeyType        = "type"
	KeySession     = "session_id"

	TypePhoto = "photo"
)

// Point is one vector to store.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is a single similarity search result. Payload values are rendered as strings.
type Hit struct {
	ID      string            `json:"id"`
	Score   float32           `json:"score"`
	Payload map[string]string `json:"payload"`
}

// Store is a single-collection vector store. VectorStore (Qdrant) and
// MemoryStore implement it.
type Store interface {
	Name() string
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, points []Point) error
	// Search returns at most limit hits scoring at or above threshold,
	// ordered by descending score.
	Search(ctx context.Context, vector []float32, threshold float32, limit int) ([]Hit, error)
	Count(ctx context.Context) (uint64, error)
	// DeleteByRoles removes every point whose role payload is one of roles.
	DeleteByRoles(ctx context.Context, roles ...string) error
}
