package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/pkg/repo"
)

// TurnLabel is the node label of archived turns.
const TurnLabel = "Turn"

// Archive durably records turns for after-action review. Resets never
// remove archived turns.
type Archive interface {
	Save(ctx context.Context, sessionID string, t domain.Turn) error
	Transcript(ctx context.Context, sessionID string) ([]domain.Turn, error)
}

// ArchivedTurn is a turn tagged with its session.
type ArchivedTurn struct {
	SessionID string
	domain.Turn
}

// RepoArchive stores turns through a generic repository.
type RepoArchive struct {
	repo repo.Repository[ArchivedTurn, string]
}

// NewRepoArchive wraps any ArchivedTurn repository.
func NewRepoArchive(r repo.Repository[ArchivedTurn, string]) *RepoArchive {
	return &RepoArchive{repo: r}
}

// NewNeo4jArchive stores turns as Turn nodes.
func NewNeo4jArchive(driver neo4j.DriverWithContext) *RepoArchive {
	return NewRepoArchive(repo.NewNeo4jRepo[ArchivedTurn, string](driver, TurnLabel, turnProps, turnFromRecord))
}

func (a *RepoArchive) Save(ctx context.Context, sessionID string, t domain.Turn) error {
	if _, err := a.repo.Create(ctx, ArchivedTurn{SessionID: sessionID, Turn: t}); err != nil {
		return fmt.Errorf("conversation: archive turn %s: %w", t.ID, err)
	}
	return nil
}

// Transcript returns the archived turns of a session ordered by timestamp.
func (a *RepoArchive) Transcript(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := a.repo.List(ctx, repo.ListOpts{
		Filter:  map[string]any{"session": sessionID},
		OrderBy: "timestamp",
		Limit:   1000,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: transcript %s: %w", sessionID, err)
	}
	turns := make([]domain.Turn, len(rows))
	for i, r := range rows {
		turns[i] = r.Turn
	}
	return turns, nil
}

func turnProps(t ArchivedTurn) map[string]any {
	return map[string]any{
		"id":        t.ID,
		"session":   t.SessionID,
		"role":      t.Role.String(),
		"content":   t.Content,
		"reply_to":  t.ReplyTo,
		"timestamp": t.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func turnFromRecord(rec *neo4j.Record) (ArchivedTurn, error) {
	props, err := repo.PropsFromRecord(rec)
	if err != nil {
		return ArchivedTurn{}, err
	}
	return turnFromProps(props)
}

func turnFromProps(props map[string]any) (ArchivedTurn, error) {
	str := func(k string) string {
		v, _ := props[k].(string)
		return v
	}
	role, err := domain.ParseRole(str("role"))
	if err != nil {
		return ArchivedTurn{}, fmt.Errorf("conversation: archived turn %s: %w", str("id"), err)
	}
	out := ArchivedTurn{
		SessionID: str("session"),
		Turn:      domain.Turn{ID: str("id"), Role: role, Content: str("content"), ReplyTo: str("reply_to")},
	}
	switch ts := props["timestamp"].(type) {
	case string:
		if out.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return ArchivedTurn{}, fmt.Errorf("conversation: archived turn %s timestamp: %w", out.ID, err)
		}
	case time.Time:
		out.Timestamp = ts
	}
	return out, nil
}
