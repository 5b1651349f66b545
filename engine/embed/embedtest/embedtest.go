// Package embedtest provides deterministic keyword embedders for tests. Each
// known keyword owns one dimension, so texts sharing a keyword have positive
// cosine similarity and unrelated texts score zero.
package embedtest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

// Keywords are matched as lower-case prefixes of words ("flood" matches
// "flooding" and "flooded").
var Keywords = []string{
	"flood", "river", "bridge", "road", "shelter", "fire", "water",
	"rescue", "collapse", "medical", "power", "landslide", "evacuat",
}

func vectorize(text string, dims int) []float32 {
	vec := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:'\"()")
		for i, kw := range Keywords {
			if strings.HasPrefix(w, kw) {
				vec[i]++
			}
		}
	}
	// Unknown words land on the last dimension so no vector is all zeros.
	vec[dims-1] = 0.1
	return vec
}

// Text embeds into domain.TextDims dimensions.
type Text struct {
	Err   error
	Calls atomic.Int64
}

func (t *Text) EmbedText(_ context.Context, text string) ([]float32, error) {
	t.Calls.Add(1)
	if t.Err != nil {
		return nil, t.Err
	}
	return vectorize(text, domain.TextDims), nil
}

// Image embeds into domain.ImageDims dimensions. Image bytes are read as the
// text of their content, so a test fixture "flood water" behaves like a photo
// of a flood.
type Image struct {
	Err error
	// FailOn makes EmbedImage fail for images whose content contains it.
	FailOn string
}

var ErrUnreadable = errors.New("embedtest: unreadable image")

func (i *Image) EmbedImage(_ context.Context, image []byte) ([]float32, error) {
	if i.Err != nil {
		return nil, i.Err
	}
	if i.FailOn != "" && strings.Contains(string(image), i.FailOn) {
		return nil, ErrUnreadable
	}
	return vectorize(string(image), domain.ImageDims), nil
}

func (i *Image) EmbedTextForImageSpace(_ context.Context, text string) ([]float32, error) {
	if i.Err != nil {
		return nil, i.Err
	}
	return vectorize(text, domain.ImageDims), nil
}
