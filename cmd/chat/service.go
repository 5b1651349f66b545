package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/WessleyAI/crisis-mvp/engine/conversation"
	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/engine/ingest"
	"github.com/WessleyAI/crisis-mvp/engine/retrieval"
	"github.com/WessleyAI/crisis-mvp/engine/semantic"
	"github.com/WessleyAI/crisis-mvp/engine/synth"
	"github.com/WessleyAI/crisis-mvp/pkg/metrics"
)

// AskRequest is the body of POST /api/chat and of crisis.chat.ask requests.
type AskRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
}

// TextEvidence is one excerpt shown in the evidence sidebar.
type TextEvidence struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Role      string  `json:"role"`
	Location  string  `json:"location,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	Score     float32 `json:"score"`
}

// ImageEvidence is one photo reference. URL is empty when display was
// suppressed by the question.
type ImageEvidence struct {
	ID      string  `json:"id"`
	Caption string  `json:"caption"`
	Score   float32 `json:"score"`
	URL     string  `json:"url,omitempty"`
}

// AskResponse is a grounded answer with its evidence.
type AskResponse struct {
	SessionID       string            `json:"session_id"`
	Answer          string            `json:"answer"`
	Citations       []domain.Citation `json:"citations"`
	TextEvidence    []TextEvidence    `json:"text_evidence"`
	ImageEvidence   []ImageEvidence   `json:"image_evidence"`
	ImageSuppressed bool              `json:"image_suppressed"`
	Degraded        []domain.Modality `json:"degraded,omitempty"`
}

// ReportRequest is the body of POST /api/reports.
type ReportRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Location  string `json:"location,omitempty"`
}

// ErrUnknownSession is returned for a session id that was never opened.
var ErrUnknownSession = errors.New("unknown session")

// Service answers questions and manages sessions. It is shared by the HTTP
// API and the NATS responder.
type Service struct {
	Retriever *retrieval.Orchestrator
	Synth     *synth.Synthesizer
	Convo     *conversation.Manager
	// Reports, when set, also makes scenario reports searchable.
	Reports *ingest.Deps
	Stores  []semantic.Store
	Metrics *metrics.Instruments
	Logger  *slog.Logger

	mu     sync.RWMutex
	images map[string]string // offered image id -> file path
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) observe(outcome string, start time.Time) {
	if s.Metrics != nil {
		s.Metrics.Query(outcome, time.Since(start))
	}
}

// Ask validates the question, records the user turn, retrieves evidence and
// synthesizes an answer. The assistant turn is recorded only on success.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	start := time.Now()
	if err := domain.ValidateQuestion(req.Question); err != nil {
		s.observe(metrics.OutcomeInvalid, start)
		return AskResponse{}, err
	}
	question := strings.TrimSpace(req.Question)

	sess := s.Convo.Open(req.SessionID)
	history := sess.History()
	userTurn, err := s.Convo.Record(ctx, sess, domain.RoleUser, question)
	if err != nil {
		return AskResponse{}, err
	}

	ev, err := s.Retriever.Retrieve(ctx, question, 0)
	if err != nil {
		outcome := metrics.OutcomeNoEvidence
		if errors.Is(err, domain.ErrDimensionMismatch) {
			outcome = metrics.OutcomeDimMismatch
		}
		s.observe(outcome, start)
		return AskResponse{SessionID: sess.ID}, err
	}

	ans, err := s.Synth.Synthesize(ctx, question, ev, history)
	if err != nil {
		s.observe(metrics.OutcomeGenFailed, start)
		return AskResponse{SessionID: sess.ID}, err
	}

	botTurn, err := s.Convo.Reply(ctx, sess, userTurn, ans.Text)
	if err != nil {
		return AskResponse{}, err
	}
	s.Convo.Remember(ctx, sess, userTurn, botTurn)

	outcome := metrics.OutcomeOK
	if ev.Degraded() {
		outcome = metrics.OutcomeDegraded
	}
	s.observe(outcome, start)
	return s.response(sess.ID, ans), nil
}

func (s *Service) response(sessionID string, ans synth.Answer) AskResponse {
	out := AskResponse{
		SessionID:       sessionID,
		Answer:          ans.Text,
		Citations:       ans.Citations,
		TextEvidence:    make([]TextEvidence, 0, len(ans.Evidence.Text)),
		ImageEvidence:   make([]ImageEvidence, 0, len(ans.Evidence.Images)),
		ImageSuppressed: ans.ImageSuppressed,
		Degraded:        ans.Evidence.Failed,
	}
	for _, m := range ans.Evidence.Text {
		te := TextEvidence{
			ID:       m.Record.ID,
			Text:     m.Record.Text,
			Role:     m.Record.Role.String(),
			Location: m.Record.Location,
			Score:    m.Score,
		}
		if m.Record.SourceTimestamp != nil {
			te.Timestamp = m.Record.SourceTimestamp.Format(time.RFC3339)
		}
		out.TextEvidence = append(out.TextEvidence, te)
	}
	for _, m := range ans.Evidence.Images {
		ie := ImageEvidence{ID: m.Record.ID, Caption: m.Record.Caption, Score: m.Score}
		if !ans.ImageSuppressed && m.Record.FilePath != "" {
			s.offerImage(m.Record.ID, m.Record.FilePath)
			ie.URL = imageURL(m.Record.ID)
		}
		out.ImageEvidence = append(out.ImageEvidence, ie)
	}
	return out
}

func (s *Service) offerImage(id, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.images == nil {
		s.images = make(map[string]string)
	}
	s.images[id] = path
}

// ImagePath returns the file of an image previously offered in an answer.
func (s *Service) ImagePath(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.images[id]
	return p, ok
}

// Reset selectively resets a session and clears episodic memory.
func (s *Service) Reset(ctx context.Context, sessionID string) (removed int, kept int, err error) {
	sess, ok := s.Convo.Get(sessionID)
	if !ok {
		return 0, 0, ErrUnknownSession
	}
	removed, err = s.Convo.Reset(ctx, sess)
	return removed, sess.Len(), err
}

// History returns the live turns, or the archived transcript when archived
// is set.
func (s *Service) History(ctx context.Context, sessionID string, archived bool) ([]domain.Turn, error) {
	sess, ok := s.Convo.Get(sessionID)
	if !ok {
		return nil, ErrUnknownSession
	}
	if archived {
		return s.Convo.Transcript(ctx, sess)
	}
	return sess.History(), nil
}

// Report appends a system_report turn and, when configured, ingests it into
// the text collection so later questions can retrieve it.
func (s *Service) Report(ctx context.Context, req ReportRequest) (domain.Turn, string, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return domain.Turn{}, "", domain.NewValidationError("content", req.Content, domain.ErrQueryEmpty)
	}
	sess := s.Convo.Open(req.SessionID)
	turn, err := s.Convo.Record(ctx, sess, domain.RoleSystemReport, content)
	if err != nil {
		return domain.Turn{}, "", err
	}
	if s.Reports != nil {
		ts := turn.Timestamp
		rec := domain.LogRecord{ID: turn.ID, Text: content, Location: req.Location, Role: domain.RoleSystemReport, SourceTimestamp: &ts}
		if err := ingest.IngestRecord(ctx, *s.Reports, rec); err != nil {
			s.log().Warn("report ingest failed", "session", sess.ID, "turn", turn.ID, "err", err)
		}
	}
	return turn, sess.ID, nil
}

// StoreCounts returns the point count per collection; failed counts are -1.
func (s *Service) StoreCounts(ctx context.Context) map[string]int64 {
	out := make(map[string]int64, len(s.Stores))
	for _, st := range s.Stores {
		n, err := st.Count(ctx)
		if err != nil {
			s.log().Warn("health count failed", "collection", st.Name(), "err", err)
			out[st.Name()] = -1
			continue
		}
		out[st.Name()] = int64(n)
	}
	return out
}
