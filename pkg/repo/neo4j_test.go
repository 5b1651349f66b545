package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type fakeResult struct {
	records []*neo4j.Record
	idx     int
}

func (f *fakeResult) Next(context.Context) bool {
	if f.idx < len(f.records) {
		f.idx++
		return true
	}
	return false
}

func (f *fakeResult) Record() *neo4j.Record { return f.records[f.idx-1] }

type fakeRunner struct {
	result  *fakeResult
	err     error
	cyphers []string
	params  []map[string]any
	closed  int
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) (result, error) {
	f.cyphers = append(f.cyphers, cypher)
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &fakeResult{}, nil
	}
	return f.result, nil
}

func (f *fakeRunner) Close(context.Context) error { f.closed++; return nil }

type note struct {
	ID      string
	Session string
	Body    string
}

func noteRecord(id, session, body string) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"n"},
		Values: []any{map[string]any{"id": id, "session": session, "body": body}},
	}
}

func newNoteRepo(r *fakeRunner) *Neo4jRepo[note, string] {
	repo := NewNeo4jRepo[note, string](
		nil, "Note",
		func(n note) map[string]any { return map[string]any{"id": n.ID, "session": n.Session, "body": n.Body} },
		func(rec *neo4j.Record) (note, error) {
			props, err := PropsFromRecord(rec)
			if err != nil {
				return note{}, err
			}
			s := func(k string) string { v, _ := props[k].(string); return v }
			return note{ID: s("id"), Session: s("session"), Body: s("body")}, nil
		},
	)
	repo.newSession = func(context.Context) runner { return r }
	return repo
}

func TestNewNeo4jRepoOptions(t *testing.T) {
	r := NewNeo4jRepo[note, string](nil, "Turn", nil, nil,
		WithIDKey[note, string]("uuid"), WithDatabase[note, string]("archive"))
	if r.idKey != "uuid" || r.database != "archive" || r.label != "Turn" {
		t.Fatalf("options not applied: %+v", r)
	}
	if NewNeo4jRepo[note, string](nil, "Turn", nil, nil).idKey != "id" {
		t.Fatal("default id key should be id")
	}
}

func TestGet(t *testing.T) {
	fr := &fakeRunner{result: &fakeResult{records: []*neo4j.Record{noteRecord("n1", "s1", "bridge closed")}}}
	got, err := newNoteRepo(fr).Get(context.Background(), "n1")
	if err != nil || got.Body != "bridge closed" {
		t.Fatalf("got %+v, %v", got, err)
	}
	if fr.cyphers[0] != "MATCH (n:Note {id: $id}) RETURN properties(n) AS n" {
		t.Fatalf("unexpected cypher %q", fr.cyphers[0])
	}
	if fr.closed != 1 {
		t.Fatal("session should be closed")
	}
}

func TestGetNotFound(t *testing.T) {
	_, err := newNoteRepo(&fakeRunner{}).Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunErrorsWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	repo := newNoteRepo(&fakeRunner{err: boom})
	ctx := context.Background()
	if _, err := repo.Get(ctx, "x"); !errors.Is(err, boom) {
		t.Errorf("Get: %v", err)
	}
	if _, err := repo.List(ctx, ListOpts{}); !errors.Is(err, boom) {
		t.Errorf("List: %v", err)
	}
	if _, err := repo.Create(ctx, note{ID: "x"}); !errors.Is(err, boom) {
		t.Errorf("Create: %v", err)
	}
	if _, err := repo.Update(ctx, note{ID: "x"}); !errors.Is(err, boom) {
		t.Errorf("Update: %v", err)
	}
	if err := repo.Delete(ctx, "x"); !errors.Is(err, boom) {
		t.Errorf("Delete: %v", err)
	}
}

func TestListFilterAndOrder(t *testing.T) {
	fr := &fakeRunner{result: &fakeResult{records: []*neo4j.Record{
		noteRecord("a", "s1", "one"),
		noteRecord("b", "s1", "two"),
	}}}
	items, err := newNoteRepo(fr).List(context.Background(), ListOpts{
		Filter:  map[string]any{"session": "s1", "role": "user"},
		OrderBy: "timestamp",
	})
	if err != nil || len(items) != 2 || items[1].ID != "b" {
		t.Fatalf("got %+v, %v", items, err)
	}
	want := "MATCH (n:Note) WHERE n.role = $f_role AND n.session = $f_session RETURN properties(n) AS n ORDER BY n.timestamp SKIP $offset LIMIT $limit"
	if fr.cyphers[0] != want {
		t.Fatalf("cypher\n got %q\nwant %q", fr.cyphers[0], want)
	}
	p := fr.params[0]
	if p["f_session"] != "s1" || p["f_role"] != "user" || p["limit"] != DefaultListLimit || p["offset"] != 0 {
		t.Fatalf("unexpected params %v", p)
	}
}

func TestListRejectsBadIdentifiers(t *testing.T) {
	repo := newNoteRepo(&fakeRunner{})
	if _, err := repo.List(context.Background(), ListOpts{Filter: map[string]any{"x}) DETACH DELETE n //": 1}}); err == nil {
		t.Fatal("expected error for unsafe filter key")
	}
	if _, err := repo.List(context.Background(), ListOpts{OrderBy: "ts DESC"}); err == nil {
		t.Fatal("expected error for unsafe order key")
	}
}

func TestListDecodeError(t *testing.T) {
	bad := &neo4j.Record{Keys: []string{"m"}, Values: []any{1}}
	_, err := newNoteRepo(&fakeRunner{result: &fakeResult{records: []*neo4j.Record{bad}}}).List(context.Background(), ListOpts{})
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCreateUpdateDelete(t *testing.T) {
	fr := &fakeRunner{result: &fakeResult{records: []*neo4j.Record{noteRecord("n1", "s1", "x")}}}
	repo := newNoteRepo(fr)
	ctx := context.Background()
	if _, err := repo.Create(ctx, note{ID: "n1", Session: "s1", Body: "x"}); err != nil {
		t.Fatal(err)
	}
	if fr.cyphers[0] != "CREATE (n:Note $props) RETURN properties(n) AS n" {
		t.Fatalf("create cypher %q", fr.cyphers[0])
	}

	if _, err := newNoteRepo(&fakeRunner{}).Create(ctx, note{ID: "n2"}); err == nil {
		t.Fatal("create with no row should fail")
	}
	if _, err := newNoteRepo(&fakeRunner{}).Update(ctx, note{ID: "n2"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}

	dr := &fakeRunner{}
	if err := newNoteRepo(dr).Delete(ctx, "n1"); err != nil {
		t.Fatal(err)
	}
	if dr.cyphers[0] != "MATCH (n:Note {id: $id}) DETACH DELETE n" {
		t.Fatalf("delete cypher %q", dr.cyphers[0])
	}
}

func TestPropsFromRecordNode(t *testing.T) {
	rec := &neo4j.Record{Keys: []string{"n"}, Values: []any{neo4j.Node{Props: map[string]any{"id": "t1"}}}}
	props, err := PropsFromRecord(rec)
	if err != nil || props["id"] != "t1" {
		t.Fatalf("got %v, %v", props, err)
	}
	if _, err := PropsFromRecord(nil); err == nil {
		t.Fatal("nil record should fail")
	}
}
