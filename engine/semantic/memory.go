package semantic

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

// MemoryStore is an in-process cosine Store used as a test double.
// Search semantics match Qdrant: inclusive threshold, descending score, ties
// in insertion order.
type MemoryStore struct {
	mu     sync.RWMutex
	name   string
	dims   int
	points []Point

	// FailWith, when set, is returned by every operation.
	FailWith error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name}
}

func (m *MemoryStore) Name() string { return m.name }

func (m *MemoryStore) EnsureCollection(_ context.Context, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	if m.dims != 0 && m.dims != dims {
		return &domain.DimensionMismatchError{Collection: m.name, Want: dims, Got: m.dims}
	}
	m.dims = dims
	return nil
}

// DeleteCollection drops every point and forgets the collection size.
func (m *MemoryStore) DeleteCollection(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.points = nil
	m.dims = 0
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	for _, p := range points {
		if m.dims != 0 {
			if err := domain.CheckDims(m.name, m.dims, p.Vector); err != nil {
				return fmt.Errorf("semantic: upsert: %w", err)
			}
		}
		idx := slices.IndexFunc(m.points, func(q Point) bool { return q.ID == p.ID })
		cp := Point{ID: p.ID, Vector: slices.Clone(p.Vector), Payload: p.Payload}
		if idx >= 0 {
			m.points[idx] = cp
		} else {
			m.points = append(m.points, cp)
		}
	}
	return nil
}

func (m *MemoryStore) Search(_ context.Context, vector []float32, threshold float32, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if limit <= 0 {
		return nil, nil
	}
	var hits []Hit
	for _, p := range m.points {
		score := Cosine(vector, p.Vector)
		if score < threshold {
			continue
		}
		hits = append(hits, Hit{ID: p.ID, Score: score, Payload: stringify(p.Payload)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryStore) Count(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return 0, m.FailWith
	}
	return uint64(len(m.points)), nil
}

func (m *MemoryStore) DeleteByRoles(_ context.Context, roles ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.points = slices.DeleteFunc(m.points, func(p Point) bool {
		r, ok := p.Payload[KeyRole]
		return ok && slices.Contains(roles, fmt.Sprint(r))
	})
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when lengths differ
// or either vector is zero.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func stringify(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}
