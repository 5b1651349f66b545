// Package retrieval runs the two modality searches for a question and
// assembles the evidence bundle handed to the answer synthesizer.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/engine/embed"
	"github.com/WessleyAI/crisis-mvp/engine/semantic"
	"github.com/WessleyAI/crisis-mvp/pkg/fn"
)

// Options configures thresholds, limits and the per-search timeout.
type Options struct {
	TextThreshold  float32
	ImageThreshold float32
	TextLimit      int
	ImageLimit     int
	SearchTimeout  time.Duration
}

// DefaultOptions returns the thresholds and limits of the field app.
func DefaultOptions() Options {
	return Options{
		TextThreshold:  domain.DefaultTextThreshold,
		ImageThreshold: domain.DefaultImageThreshold,
		TextLimit:      2,
		ImageLimit:     1,
		SearchTimeout:  30 * time.Second,
	}
}

// Deps holds the embedders and per-modality stores.
type Deps struct {
	Text   embed.TextEmbedder
	Image  embed.ImageEmbedder
	Texts  semantic.Store
	Images semantic.Store
	Logger *slog.Logger
	// Observe is called after each modality search. Optional.
	Observe func(m domain.Modality, took time.Duration, err error)
}

// Orchestrator is the retrieval-and-grounding step.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, opts: opts, logger: logger}
}

// Options returns the configured options.
func (o *Orchestrator) Options() Options { return o.opts }

// Retrieve embeds the query for both modalities and searches both
// collections concurrently. topK > 0 overrides both limits.
//
// A failed modality is left empty and listed in EvidenceBundle.Failed. Only
// when both searches fail is an error returned; it wraps domain.ErrNoEvidence
// and both RetrievalErrors. A query vector of the wrong dimensionality fails
// the whole query with the DimensionMismatchError.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, topK int) (domain.EvidenceBundle, error) {
	textLimit, imageLimit := o.opts.TextLimit, o.opts.ImageLimit
	if topK > 0 {
		textLimit, imageLimit = topK, topK
	}

	results := fn.FanOut(
		func() fn.Result[[]semantic.Hit] {
			return o.search(ctx, domain.ModalityText, query, textLimit)
		},
		func() fn.Result[[]semantic.Hit] {
			return o.search(ctx, domain.ModalityImage, query, imageLimit)
		},
	)
	textHits, textErr := results[0].Unwrap()
	imageHits, imageErr := results[1].Unwrap()

	for _, err := range []error{textErr, imageErr} {
		var dm *domain.DimensionMismatchError
		if errors.As(err, &dm) {
			o.logger.Error("retrieval: query embedding has wrong dimensions", "collection", dm.Collection, "want", dm.Want, "got", dm.Got)
			return domain.EvidenceBundle{}, fmt.Errorf("retrieval: %w", err)
		}
	}

	var bundle domain.EvidenceBundle
	if textErr != nil {
		bundle.Failed = append(bundle.Failed, domain.ModalityText)
	} else {
		bundle.Text = toTextMatches(textHits)
	}
	if imageErr != nil {
		bundle.Failed = append(bundle.Failed, domain.ModalityImage)
	} else {
		bundle.Images = toImageMatches(imageHits)
	}

	if textErr != nil && imageErr != nil {
		o.logger.Error("retrieval: both searches failed", "text_err", textErr, "image_err", imageErr)
		return bundle, fmt.Errorf("retrieval: %w: %w", domain.ErrNoEvidence, errors.Join(textErr, imageErr))
	}
	o.logger.Info("retrieval done",
		"text", len(bundle.Text),
		"images", len(bundle.Images),
		"failed", bundle.Failed,
	)
	return bundle, nil
}

func (o *Orchestrator) search(ctx context.Context, m domain.Modality, query string, limit int) fn.Result[[]semantic.Hit] {
	start := time.Now()
	stage := fn.Traced("retrieval.search."+string(m), fn.Lift(func(ctx context.Context, q string) ([]semantic.Hit, error) {
		if o.opts.SearchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.opts.SearchTimeout)
			defer cancel()
		}
		vec, store, threshold, err := o.embedQuery(ctx, m, q)
		if err != nil {
			return nil, err
		}
		hits, err := store.Search(ctx, vec, threshold, limit)
		if err != nil {
			return nil, err
		}
		return filterAndSort(hits, threshold), nil
	}))

	res := stage(ctx, query)
	_, err := res.Unwrap()
	if o.deps.Observe != nil {
		o.deps.Observe(m, time.Since(start), err)
	}
	if err != nil {
		o.logger.Warn("retrieval search failed", "modality", m, "err", err)
		return fn.Err[[]semantic.Hit](&domain.RetrievalError{Modality: m, Err: err})
	}
	return res
}

func (o *Orchestrator) embedQuery(ctx context.Context, m domain.Modality, q string) ([]float32, semantic.Store, float32, error) {
	switch m {
	case domain.ModalityText:
		vec, err := o.deps.Text.EmbedText(ctx, q)
		if err == nil {
			err = domain.CheckDims(o.deps.Texts.Name(), domain.TextDims, vec)
		}
		return vec, o.deps.Texts, o.opts.TextThreshold, err
	case domain.ModalityImage:
		vec, err := o.deps.Image.EmbedTextForImageSpace(ctx, q)
		if err == nil {
			err = domain.CheckDims(o.deps.Images.Name(), domain.ImageDims, vec)
		}
		return vec, o.deps.Images, o.opts.ImageThreshold, err
	default:
		return nil, nil, 0, fmt.Errorf("retrieval: unknown modality %q", m)
	}
}

// filterAndSort keeps hits scoring strictly above threshold, ordered by
// descending score with ties in store order.
func filterAndSort(hits []semantic.Hit, threshold float32) []semantic.Hit {
	out := make([]semantic.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score > threshold {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
