package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEmbedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req embedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != DefaultModel || req.Prompt != "Flood reported near River X" {
			t.Errorf("unexpected request %+v", req)
		}
		emb := make([]float64, 384)
		emb[0] = 0.5
		_ = json.NewEncoder(w).Encode(embedResp{Embedding: emb})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL+"/", "", time.Second)
	vec, err := c.EmbedText(context.Background(), "Flood reported near River X")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 384 || vec[0] != 0.5 {
		t.Fatalf("unexpected vector len=%d first=%v", len(vec), vec[0])
	}
}

func TestEmbedTextStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewEmbedClient(srv.URL, "missing", time.Second).EmbedText(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "status 404") || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestEmbedTextEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	}))
	defer srv.Close()

	if _, err := NewEmbedClient(srv.URL, "", time.Second).EmbedText(context.Background(), "x"); err == nil {
		t.Fatal("expected error on empty embedding")
	}
}

func TestEmbedTextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewEmbedClient(srv.URL, "", 0).EmbedText(ctx, "x"); err == nil {
		t.Fatal("expected context error")
	}
}
