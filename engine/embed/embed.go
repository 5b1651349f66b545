// Package embed defines the embedding providers used by ingestion and
// retrieval, plus decorators that enforce vector size and guard remote calls.
package embed

import (
	"context"
	"fmt"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/pkg/resilience"
)

// TextEmbedder maps text into the 384-dim sentence space.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// ImageEmbedder maps images, and text for cross-modal queries, into the
// shared 512-dim CLIP space.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
	EmbedTextForImageSpace(ctx context.Context, text string) ([]float32, error)
}

// CheckedText rejects vectors whose length is not domain.TextDims.
type CheckedText struct {
	Inner      TextEmbedder
	Collection string
}

func (c CheckedText) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.Inner.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: text: %w", err)
	}
	if err := domain.CheckDims(c.Collection, domain.TextDims, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// CheckedImage rejects vectors whose length is not domain.ImageDims.
type CheckedImage struct {
	Inner      ImageEmbedder
	Collection string
}

func (c CheckedImage) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	vec, err := c.Inner.EmbedImage(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("embed: image: %w", err)
	}
	if err := domain.CheckDims(c.Collection, domain.ImageDims, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (c CheckedImage) EmbedTextForImageSpace(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.Inner.EmbedTextForImageSpace(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: cross-modal text: %w", err)
	}
	if err := domain.CheckDims(c.Collection, domain.ImageDims, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Guard throttles and circuit-breaks calls to an embedding service.
// Either field may be nil.
type Guard struct {
	Limiter *resilience.Limiter
	Breaker *resilience.Breaker
}

func (g Guard) call(ctx context.Context, f func(context.Context) ([]float32, error)) ([]float32, error) {
	if err := g.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if g.Breaker == nil {
		return f(ctx)
	}
	return resilience.Do(g.Breaker, ctx, f)
}

// GuardedText applies a Guard to a TextEmbedder.
type GuardedText struct {
	Inner TextEmbedder
	Guard Guard
}

func (g GuardedText) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return g.Guard.call(ctx, func(ctx context.Context) ([]float32, error) {
		return g.Inner.EmbedText(ctx, text)
	})
}

// GuardedImage applies a Guard to an ImageEmbedder.
type GuardedImage struct {
	Inner ImageEmbedder
	Guard Guard
}

func (g GuardedImage) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	return g.Guard.call(ctx, func(ctx context.Context) ([]float32, error) {
		return g.Inner.EmbedImage(ctx, image)
	})
}

func (g GuardedImage) EmbedTextForImageSpace(ctx context.Context, text string) ([]float32, error) {
	return g.Guard.call(ctx, func(ctx context.Context) ([]float32, error) {
		return g.Inner.EmbedTextForImageSpace(ctx, text)
	})
}
