// Package synth turns a question, its evidence and the conversation so far
// into a grounded answer with citations by calling a completion provider.
package synth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/pkg/fn"
	"github.com/WessleyAI/crisis-mvp/pkg/resilience"
)

// CompletionProvider is a stateless LLM call. All context is passed explicitly.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string, history []domain.Turn) (string, error)
}

// Options configures the synthesizer.
type Options struct {
	// Retry bounds attempts at the provider. fn.NoRetry disables retries.
	Retry fn.RetryOpts
	// MaxHistory caps the number of prior turns sent to the model.
	MaxHistory int
	// Timeout bounds the whole synthesis including retries.
	Timeout time.Duration
}

// DefaultOptions retries transient failures with jittered backoff.
func DefaultOptions() Options {
	retry := fn.DefaultRetry
	retry.Retryable = retryable
	return Options{Retry: retry, MaxHistory: 10, Timeout: 60 * time.Second}
}

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, resilience.ErrCircuitOpen)
}

// Answer is a grounded response.
type Answer struct {
	Text      string                `json:"answer"`
	Citations []domain.Citation     `json:"citations"`
	Evidence  domain.EvidenceBundle `json:"evidence"`
	// ImageSuppressed is set when the user asked not to be shown photos.
	// Images are still used as evidence and cited.
	ImageSuppressed bool `json:"image_suppressed"`
}

// Synthesizer calls the completion provider behind a breaker and retry policy.
type Synthesizer struct {
	llm     CompletionProvider
	breaker *resilience.Breaker
	opts    Options
	logger  *slog.Logger
}

// New creates a Synthesizer. breaker may be nil.
func New(llm CompletionProvider, breaker *resilience.Breaker, opts Options, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = fn.NoRetry
	}
	return &Synthesizer{llm: llm, breaker: breaker, opts: opts, logger: logger}
}

// Synthesize builds the prompt and asks the model. Provider failures after
// retries are returned as *domain.GenerationError.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, ev domain.EvidenceBundle, history []domain.Turn) (Answer, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	prompt := BuildPrompt(question, ev)
	hist := trimHistory(history, s.opts.MaxHistory)

	attempt := 0
	res := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) fn.Result[string] {
		attempt++
		return fn.FromPair(s.complete(ctx, prompt, hist))
	})
	text, err := res.Unwrap()
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		s.logger.Error("synth: generation failed", "attempts", attempt, "err", err)
		return Answer{}, &domain.GenerationError{Err: err}
	}

	s.logger.Info("synth: answer ready",
		"attempts", attempt,
		"text_evidence", len(ev.Text),
		"image_evidence", len(ev.Images),
		"history", len(hist),
	)
	return Answer{
		Text:            strings.TrimSpace(text),
		Citations:       Citations(ev),
		Evidence:        ev,
		ImageSuppressed: domain.WantsNoImage(question),
	}, nil
}

func (s *Synthesizer) complete(ctx context.Context, prompt string, hist []domain.Turn) (string, error) {
	if s.breaker == nil {
		return s.llm.Complete(ctx, prompt, hist)
	}
	return resilience.Do(s.breaker, ctx, func(ctx context.Context) (string, error) {
		return s.llm.Complete(ctx, prompt, hist)
	})
}

func trimHistory(h []domain.Turn, max int) []domain.Turn {
	if max > 0 && len(h) > max {
		return h[len(h)-max:]
	}
	return h
}
