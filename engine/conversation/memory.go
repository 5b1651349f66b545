package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/engine/embed"
	"github.com/WessleyAI/crisis-mvp/engine/semantic"
)

// Memory writes conversation turns into the text collection so later
// questions can retrieve them alongside ingested reports.
type Memory struct {
	embedder embed.TextEmbedder
	store    semantic.Store
}

// NewMemory creates an episodic memory writer over the text collection.
func NewMemory(e embed.TextEmbedder, store semantic.Store) *Memory {
	return &Memory{embedder: e, store: store}
}

// Remember embeds and upserts user and assistant turns. Other roles and
// blank turns are skipped.
func (m *Memory) Remember(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	points := make([]semantic.Point, 0, len(turns))
	for _, t := range turns {
		if t.Role != domain.RoleUser && t.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		vec, err := m.embedder.EmbedText(ctx, t.Content)
		if err != nil {
			return fmt.Errorf("conversation: remember %s turn: %w", t.Role, err)
		}
		points = append(points, semantic.Point{
			ID:      uuid.NewString(),
			Vector:  vec,
			Payload: turnPayload(sessionID, t),
		})
	}
	if len(points) == 0 {
		return nil
	}
	if err := m.store.Upsert(ctx, points); err != nil {
		return fmt.Errorf("conversation: remember: %w", err)
	}
	return nil
}

// Forget deletes every user and assistant point from the text collection.
// Ingested system reports and the image collection are untouched.
func (m *Memory) Forget(ctx context.Context) error {
	err := m.store.DeleteByRoles(ctx, domain.RoleUser.String(), domain.RoleAssistant.String())
	if err != nil {
		return fmt.Errorf("conversation: forget: %w", err)
	}
	return nil
}

func turnPayload(sessionID string, t domain.Turn) map[string]any {
	p := map[string]any{
		semantic.KeyRecordID: t.ID,
		semantic.KeyChatText: t.Content,
		semantic.KeyRole:     t.Role.String(),
		semantic.KeySession:  sessionID,
	}
	if !t.Timestamp.IsZero() {
		p[semantic.KeyTimestamp] = t.Timestamp.UTC().Format(time.RFC3339)
	}
	return p
}
