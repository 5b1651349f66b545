// Package clip is a client for a CLIP embedding service that places images and
// text in one 512-dim space.
//
// The service contract is JSON over HTTP:
//
//	POST /embed/image {"model", "image": base64} -> {"embedding": [...]}
//	POST /embed/text  {"model", "text"}          -> {"embedding": [...]}
package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultModel matches the sentence-transformers CLIP checkpoint.
const DefaultModel = "clip-ViT-B-32"

// Client implements embed.ImageEmbedder.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// New creates a CLIP client.
func New(baseURL, model string, timeout time.Duration) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type request struct {
	Model string `json:"model"`
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
}

type response struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// EmbedImage embeds raw image bytes (JPEG or PNG).
func (c *Client) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("clip: embed image: empty input")
	}
	return c.post(ctx, "/embed/image", request{Model: c.model, Image: base64.StdEncoding.EncodeToString(image)})
}

// EmbedTextForImageSpace embeds a query string into the image space.
func (c *Client) EmbedTextForImageSpace(ctx context.Context, text string) ([]float32, error) {
	return c.post(ctx, "/embed/text", request{Model: c.model, Text: text})
}

func (c *Client) post(ctx context.Context, path string, body request) ([]float32, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("clip: %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("clip: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clip: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("clip: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("clip: %s decode: %w", path, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("clip: %s: %s", path, out.Error)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("clip: %s: empty embedding", path)
	}
	return out.Embedding, nil
}
