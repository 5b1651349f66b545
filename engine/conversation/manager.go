package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

// Options configures a Manager. Nil Memory or Archive disables that feature.
type Options struct {
	Memory  *Memory
	Archive Archive
	Logger  *slog.Logger
}

// Manager owns the live sessions and fans turns out to memory and archive.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{opts: opts, logger: logger, sessions: make(map[string]*Session)}
}

// Open returns the session with id, creating it if needed. An empty id
// always creates a new session.
func (m *Manager) Open(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && id != "" {
		return s
	}
	s := NewSession(id)
	m.sessions[s.ID] = s
	return s
}

// Get returns an existing session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Record appends a turn and archives it. Archive failures are logged only.
func (m *Manager) Record(ctx context.Context, s *Session, role domain.Role, content string) (domain.Turn, error) {
	return m.record(ctx, s, domain.Turn{Role: role, Content: content})
}

// Reply records an assistant turn answering to.
func (m *Manager) Reply(ctx context.Context, s *Session, to domain.Turn, content string) (domain.Turn, error) {
	return m.record(ctx, s, domain.Turn{Role: domain.RoleAssistant, Content: content, ReplyTo: to.ID})
}

func (m *Manager) record(ctx context.Context, s *Session, turn domain.Turn) (domain.Turn, error) {
	t, err := s.Append(turn)
	if err != nil {
		return domain.Turn{}, err
	}
	if m.opts.Archive != nil {
		if err := m.opts.Archive.Save(ctx, s.ID, t); err != nil {
			m.logger.Warn("transcript archive failed", "session", s.ID, "turn", t.ID, "err", err)
		}
	}
	return t, nil
}

// Remember writes a completed exchange into episodic memory. Failures are
// logged; the answer has already been delivered.
func (m *Manager) Remember(ctx context.Context, s *Session, turns ...domain.Turn) {
	if m.opts.Memory == nil {
		return
	}
	if err := m.opts.Memory.Remember(ctx, s.ID, turns...); err != nil {
		m.logger.Warn("episodic memory write failed", "session", s.ID, "err", err)
	}
}

// Reset selectively resets the session and clears episodic memory points.
// The session is reset even when clearing memory fails.
func (m *Manager) Reset(ctx context.Context, s *Session) (int, error) {
	removed := s.SelectiveReset()
	m.logger.Info("session reset", "session", s.ID, "removed", removed, "kept", s.Len())
	if m.opts.Memory == nil {
		return removed, nil
	}
	if err := m.opts.Memory.Forget(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

// Transcript returns the archived transcript when an archive is configured,
// otherwise the live history.
func (m *Manager) Transcript(ctx context.Context, s *Session) ([]domain.Turn, error) {
	if m.opts.Archive == nil {
		return s.History(), nil
	}
	return m.opts.Archive.Transcript(ctx, s.ID)
}
