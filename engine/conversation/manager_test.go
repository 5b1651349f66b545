package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/engine/embed/embedtest"
	"github.com/WessleyAI/crisis-mvp/engine/semantic"
	"github.com/WessleyAI/crisis-mvp/pkg/repo"
)

// fakeRepo is an in-memory ArchivedTurn repository.
type fakeRepo struct {
	mu   sync.Mutex
	rows []ArchivedTurn
	err  error
	last repo.ListOpts
}

func (f *fakeRepo) Get(_ context.Context, id string) (ArchivedTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return ArchivedTurn{}, repo.ErrNotFound
}

func (f *fakeRepo) List(_ context.Context, opts repo.ListOpts) ([]ArchivedTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = opts
	if f.err != nil {
		return nil, f.err
	}
	var out []ArchivedTurn
	for _, r := range f.rows {
		if r.SessionID == opts.Filter["session"] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) Create(_ context.Context, t ArchivedTurn) (ArchivedTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ArchivedTurn{}, f.err
	}
	// Round-trip through the node properties the Neo4j archive writes.
	back, err := turnFromProps(turnProps(t))
	if err != nil {
		return ArchivedTurn{}, err
	}
	f.rows = append(f.rows, back)
	return back, nil
}

func (f *fakeRepo) Update(context.Context, ArchivedTurn) (ArchivedTurn, error) {
	return ArchivedTurn{}, errors.New("not supported")
}

func (f *fakeRepo) Delete(context.Context, string) error { return errors.New("not supported") }

func newTextStore(t *testing.T) *semantic.MemoryStore {
	t.Helper()
	store := semantic.NewMemoryStore("user_episodic_memory")
	require.NoError(t, store.EnsureCollection(context.Background(), domain.TextDims))
	return store
}

func TestManagerOpen(t *testing.T) {
	m := NewManager(Options{})
	a := m.Open("")
	b := m.Open("")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Same(t, a, m.Open(a.ID))

	named := m.Open("ops-room")
	got, ok := m.Get("ops-room")
	require.True(t, ok)
	assert.Same(t, named, got)
	_, ok = m.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 3, m.Len())
}

func TestManagerRecordArchives(t *testing.T) {
	fr := &fakeRepo{}
	m := NewManager(Options{Archive: NewRepoArchive(fr)})
	ctx := context.Background()
	s := m.Open("s1")

	_, err := m.Record(ctx, s, domain.RoleSystemReport, "River X bridge closed")
	require.NoError(t, err)
	_, err = m.Record(ctx, s, domain.RoleUser, "Is the bridge open?")
	require.NoError(t, err)

	transcript, err := m.Transcript(ctx, s)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, domain.RoleSystemReport, transcript[0].Role)
	assert.Equal(t, "Is the bridge open?", transcript[1].Content)
	assert.Equal(t, "timestamp", fr.last.OrderBy)

	// Archive keeps the full record after a reset.
	_, err = m.Reset(ctx, s)
	require.NoError(t, err)
	transcript, err = m.Transcript(ctx, s)
	require.NoError(t, err)
	assert.Len(t, transcript, 2)
	assert.Len(t, s.History(), 1)
}

func TestManagerReplyDroppedWhenReportInterleaves(t *testing.T) {
	fr := &fakeRepo{}
	m := NewManager(Options{Archive: NewRepoArchive(fr)})
	ctx := context.Background()
	s := m.Open("s1")

	q, err := m.Record(ctx, s, domain.RoleUser, "Any flooding?")
	require.NoError(t, err)
	report, err := m.Record(ctx, s, domain.RoleSystemReport, "Bridge collapsed")
	require.NoError(t, err)
	ans, err := m.Reply(ctx, s, q, "Flooding near River X.")
	require.NoError(t, err)
	assert.Equal(t, q.ID, ans.ReplyTo)

	removed, err := m.Reset(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []domain.Turn{report}, s.History())

	transcript, err := m.Transcript(ctx, s)
	require.NoError(t, err)
	require.Len(t, transcript, 3)
	assert.Equal(t, q.ID, transcript[2].ReplyTo)
}

func TestManagerArchiveFailureNotFatal(t *testing.T) {
	m := NewManager(Options{Archive: NewRepoArchive(&fakeRepo{err: errors.New("neo4j down")})})
	s := m.Open("s1")
	turn, err := m.Record(context.Background(), s, domain.RoleUser, "Any flooding reports?")
	require.NoError(t, err)
	assert.Equal(t, "Any flooding reports?", turn.Content)
	assert.Equal(t, 1, s.Len())
}

func TestManagerRecordRejectsInvalidRole(t *testing.T) {
	m := NewManager(Options{})
	_, err := m.Record(context.Background(), m.Open("s"), domain.Role(7), "x")
	assert.Error(t, err)
}

func TestManagerTranscriptWithoutArchive(t *testing.T) {
	m := NewManager(Options{})
	s := m.Open("s")
	_, _ = m.Record(context.Background(), s, domain.RoleUser, "q")
	got, err := m.Transcript(context.Background(), s)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEpisodicMemoryRememberAndForget(t *testing.T) {
	ctx := context.Background()
	store := newTextStore(t)
	report := semantic.Point{
		ID:      "r1",
		Vector:  make([]float32, domain.TextDims),
		Payload: map[string]any{semantic.KeyRole: "system_report", semantic.KeyChatText: "Shelter open"},
	}
	report.Vector[0] = 1
	require.NoError(t, store.Upsert(ctx, []semantic.Point{report}))

	emb := &embedtest.Text{}
	m := NewManager(Options{Memory: NewMemory(emb, store)})
	s := m.Open("s1")
	q, _ := m.Record(ctx, s, domain.RoleUser, "Is the river flooding?")
	a, _ := m.Record(ctx, s, domain.RoleAssistant, "Yes, River X flooded the road.")
	m.Remember(ctx, s, q, a)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	assert.Equal(t, int64(2), emb.Calls.Load())

	vec, _ := emb.EmbedText(ctx, "river flooding")
	hits, err := store.Search(ctx, vec, 0.5, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "s1", hits[0].Payload[semantic.KeySession])
	assert.Contains(t, []string{"user", "assistant"}, hits[0].Payload[semantic.KeyRole])

	removed, err := m.Reset(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	n, _ = store.Count(ctx)
	assert.Equal(t, uint64(1), n, "system report point survives reset")
}

func TestMemorySkipsReportsAndBlank(t *testing.T) {
	ctx := context.Background()
	store := newTextStore(t)
	emb := &embedtest.Text{}
	mem := NewMemory(emb, store)
	err := mem.Remember(ctx, "s",
		domain.Turn{ID: "1", Role: domain.RoleSystemReport, Content: "Bridge closed"},
		domain.Turn{ID: "2", Role: domain.RoleUser, Content: "   "},
	)
	require.NoError(t, err)
	assert.Zero(t, emb.Calls.Load())
	n, _ := store.Count(ctx)
	assert.Zero(t, n)
}

func TestMemoryErrors(t *testing.T) {
	ctx := context.Background()
	turn := domain.Turn{ID: "1", Role: domain.RoleUser, Content: "flood?"}

	boom := errors.New("ollama down")
	err := NewMemory(&embedtest.Text{Err: boom}, newTextStore(t)).Remember(ctx, "s", turn)
	assert.ErrorIs(t, err, boom)

	store := newTextStore(t)
	store.FailWith = domain.ErrStoreUnavailable
	mem := NewMemory(&embedtest.Text{}, store)
	assert.ErrorIs(t, mem.Remember(ctx, "s", turn), domain.ErrStoreUnavailable)
	assert.ErrorIs(t, mem.Forget(ctx), domain.ErrStoreUnavailable)

	// Manager logs memory write failures and still resets the session.
	m := NewManager(Options{Memory: mem})
	s := m.Open("s")
	_, _ = m.Record(ctx, s, domain.RoleUser, "flood?")
	m.Remember(ctx, s, turn)
	removed, err := m.Reset(ctx, s)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 1, removed)
	assert.Zero(t, s.Len())
}

func TestTurnPropsRoundTrip(t *testing.T) {
	ts := time.Date(2024, 6, 1, 9, 30, 0, 123, time.UTC)
	in := ArchivedTurn{SessionID: "s1", Turn: domain.Turn{ID: "t1", Role: domain.RoleAssistant, Content: "Avoid the bridge.", ReplyTo: "q1", Timestamp: ts}}

	rec := &neo4j.Record{Keys: []string{"n"}, Values: []any{turnProps(in)}}
	out, err := turnFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	props := turnProps(in)
	props["timestamp"] = ts
	out, err = turnFromProps(props)
	require.NoError(t, err)
	assert.Equal(t, ts, out.Timestamp)

	props["role"] = "system"
	_, err = turnFromProps(props)
	assert.Error(t, err)
}
