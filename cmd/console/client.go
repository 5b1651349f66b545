package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/pkg/natsutil"
)

// askSubject must match the chat server's responder.
const askSubject = "crisis.chat.ask"

type askRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
}

type textEvidence struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Role     string  `json:"role"`
	Location string  `json:"location,omitempty"`
	Score    float32 `json:"score"`
}

type imageEvidence struct {
	ID      string  `json:"id"`
	Caption string  `json:"caption"`
	Score   float32 `json:"score"`
	URL     string  `json:"url,omitempty"`
}

type askResponse struct {
	SessionID       string            `json:"session_id"`
	Answer          string            `json:"answer"`
	Citations       []domain.Citation `json:"citations"`
	TextEvidence    []textEvidence    `json:"text_evidence"`
	ImageEvidence   []imageEvidence   `json:"image_evidence"`
	ImageSuppressed bool              `json:"image_suppressed"`
	Degraded        []domain.Modality `json:"degraded,omitempty"`
}

type resetResult struct {
	Removed       int   `json:"removed"`
	Kept          int   `json:"kept"`
	MemoryCleared *bool `json:"memory_cleared,omitempty"`
}

type reportRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Location  string `json:"location,omitempty"`
}

// Backend is what the console needs from the chat service.
type Backend interface {
	Ask(ctx context.Context, req askRequest) (askResponse, error)
	Reset(ctx context.Context, sessionID string) (resetResult, error)
	// Report returns the session the report was appended to.
	Report(ctx context.Context, req reportRequest) (string, error)
}

// APIError is a non-2xx reply from the chat API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %d %s", e.Status, e.Message)
}

// HTTPBackend talks to cmd/chat over its JSON API.
type HTTPBackend struct {
	BaseURL string
	Client  *http.Client
}

func (b *HTTPBackend) Ask(ctx context.Context, req askRequest) (askResponse, error) {
	var resp askResponse
	err := b.post(ctx, "/api/chat", req, &resp)
	return resp, err
}

func (b *HTTPBackend) Reset(ctx context.Context, sessionID string) (resetResult, error) {
	var res resetResult
	err := b.post(ctx, "/api/reset", map[string]string{"session_id": sessionID}, &res)
	return res, err
}

func (b *HTTPBackend) Report(ctx context.Context, req reportRequest) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	err := b.post(ctx, "/api/reports", req, &out)
	return out.SessionID, err
}

// ImageURL resolves a relative evidence URL against the server.
func (b *HTTPBackend) ImageURL(rel string) string {
	if rel == "" {
		return ""
	}
	return strings.TrimRight(b.BaseURL, "/") + rel
}

func (b *HTTPBackend) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("console: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(b.BaseURL, "/")+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("console: %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("console: read %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("console: decode %s: %w", path, err)
	}
	return nil
}

// NATSBackend asks over crisis.chat.ask and falls back to HTTP for the
// operations the responder does not expose.
type NATSBackend struct {
	Conn *nats.Conn
	HTTP *HTTPBackend
}

var errNoHTTP = errors.New("console: operation needs the HTTP api")

func (b *NATSBackend) Ask(ctx context.Context, req askRequest) (askResponse, error) {
	return natsutil.Request[askRequest, askResponse](ctx, b.Conn, askSubject, req)
}

func (b *NATSBackend) Reset(ctx context.Context, sessionID string) (resetResult, error) {
	if b.HTTP == nil {
		return resetResult{}, errNoHTTP
	}
	return b.HTTP.Reset(ctx, sessionID)
}

func (b *NATSBackend) Report(ctx context.Context, req reportRequest) (string, error) {
	if b.HTTP == nil {
		return "", errNoHTTP
	}
	return b.HTTP.Report(ctx, req)
}
