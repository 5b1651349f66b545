// Package conversation keeps per-session chat history, mirrors user and
// assistant turns into episodic vector memory and archives transcripts.
//
// A reset forgets what the user asked and what was answered but keeps the
// scenario briefing: system_report turns, and assistant turns that reply to
// them, survive.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

// Session is one ordered conversation. Safe for concurrent use.
type Session struct {
	ID string

	mu    sync.RWMutex
	turns []domain.Turn
	now   func() time.Time
}

// NewSession creates an empty session. An empty id gets a random one.
func NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{ID: id, now: time.Now}
}

// Append adds a turn at the end of the history. Missing ID and Timestamp are
// filled in; the stored turn is returned.
func (s *Session) Append(t domain.Turn) (domain.Turn, error) {
	if !t.Role.Valid() {
		return domain.Turn{}, fmt.Errorf("conversation: append: invalid role %d", int(t.Role))
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now().UTC()
	}
	s.mu.Lock()
	s.turns = append(s.turns, t)
	s.mu.Unlock()
	return t, nil
}

// History returns a copy of the turns in append order.
func (s *Session) History() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// SelectiveReset drops user turns and the assistant turns answering them,
// and returns how many turns were removed. Applying it twice is the same as
// applying it once.
func (s *Session) SelectiveReset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := retained(s.turns)
	removed := len(s.turns) - len(kept)
	s.turns = kept
	return removed
}

// retained keeps system reports and the assistant turns answering them.
// An assistant turn with ReplyTo survives only if it answers a system
// report; one without it falls back to its nearest preceding non-assistant
// turn. Answers to user turns are dropped even when a report was appended
// between question and answer.
func retained(turns []domain.Turn) []domain.Turn {
	roleOf := make(map[string]domain.Role, len(turns))
	for _, t := range turns {
		roleOf[t.ID] = t.Role
	}
	kept := make([]domain.Turn, 0, len(turns))
	var anchor domain.Role
	for _, t := range turns {
		switch t.Role {
		case domain.RoleSystemReport:
			kept = append(kept, t)
			anchor = domain.RoleSystemReport
		case domain.RoleUser:
			anchor = domain.RoleUser
		case domain.RoleAssistant:
			answers := anchor
			if t.ReplyTo != "" {
				answers = roleOf[t.ReplyTo]
			}
			if answers == domain.RoleSystemReport {
				kept = append(kept, t)
			}
		}
	}
	return kept
}
