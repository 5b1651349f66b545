package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/pkg/resilience"
)

type fixedText struct {
	dims  int
	err   error
	calls int
}

func (f *fixedText) EmbedText(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dims), nil
}

type fixedImage struct{ imageDims, textDims int }

func (f fixedImage) EmbedImage(context.Context, []byte) ([]float32, error) {
	return make([]float32, f.imageDims), nil
}

func (f fixedImage) EmbedTextForImageSpace(context.Context, string) ([]float32, error) {
	return make([]float32, f.textDims), nil
}

func TestCheckedTextAcceptsExactDims(t *testing.T) {
	c := CheckedText{Inner: &fixedText{dims: 384}, Collection: "user_episodic_memory"}
	vec, err := c.EmbedText(context.Background(), "Flood reported near River X")
	if err != nil || len(vec) != domain.TextDims {
		t.Fatalf("got len %d, %v", len(vec), err)
	}
}

func TestCheckedTextRejectsWrongDims(t *testing.T) {
	c := CheckedText{Inner: &fixedText{dims: 768}, Collection: "user_episodic_memory"}
	_, err := c.EmbedText(context.Background(), "x")
	var dm *domain.DimensionMismatchError
	if !errors.As(err, &dm) || dm.Want != 384 || dm.Got != 768 {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestCheckedImage(t *testing.T) {
	ok := CheckedImage{Inner: fixedImage{512, 512}, Collection: "disaster_multimodal"}
	if v, err := ok.EmbedImage(context.Background(), []byte{0xff}); err != nil || len(v) != 512 {
		t.Fatalf("image: %d, %v", len(v), err)
	}
	if v, err := ok.EmbedTextForImageSpace(context.Background(), "flood"); err != nil || len(v) != 512 {
		t.Fatalf("cross-modal: %d, %v", len(v), err)
	}

	bad := CheckedImage{Inner: fixedImage{512, 384}, Collection: "disaster_multimodal"}
	if _, err := bad.EmbedTextForImageSpace(context.Background(), "flood"); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestCheckedTextWrapsInnerError(t *testing.T) {
	boom := errors.New("ollama down")
	c := CheckedText{Inner: &fixedText{err: boom}}
	if _, err := c.EmbedText(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestGuardedTextTripsBreaker(t *testing.T) {
	inner := &fixedText{err: errors.New("timeout")}
	g := GuardedText{
		Inner: inner,
		Guard: Guard{Breaker: resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute})},
	}
	ctx := context.Background()
	_, _ = g.EmbedText(ctx, "a")
	_, _ = g.EmbedText(ctx, "b")
	if _, err := g.EmbedText(ctx, "c"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("open breaker should not reach the service, calls=%d", inner.calls)
	}
}

func TestGuardedImageWaitsOnLimiter(t *testing.T) {
	g := GuardedImage{
		Inner: fixedImage{512, 512},
		Guard: Guard{Limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: 0.001, Burst: 1})},
	}
	if _, err := g.EmbedImage(context.Background(), nil); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := g.EmbedTextForImageSpace(ctx, "flood"); err == nil {
		t.Fatal("expected limiter wait to fail on expired context")
	}
}
