package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

const maxBody = 64 << 10

func imageURL(id string) string { return "/api/evidence/image?id=" + url.QueryEscape(id) }

// routes registers the chat API on a new mux.
func routes(svc *Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(svc))
	mux.HandleFunc("POST /api/chat", handleChat(svc))
	mux.HandleFunc("POST /api/reset", handleReset(svc))
	mux.HandleFunc("GET /api/history", handleHistory(svc))
	mux.HandleFunc("POST /api/reports", handleReport(svc))
	mux.HandleFunc("GET /api/evidence/image", handleImage(svc))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDimensionMismatch):
		// Embedding model and collection disagree; retrying will not help.
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrNoEvidence), errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageOf(err error, status int) string {
	switch status {
	case http.StatusServiceUnavailable:
		if errors.Is(err, domain.ErrNoEvidence) {
			return domain.ErrNoEvidence.Error()
		}
		return domain.ErrStoreUnavailable.Error()
	case http.StatusInternalServerError:
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return domain.ErrDimensionMismatch.Error()
		}
		return "internal error"
	default:
		return err.Error()
	}
}

func fail(svc *Service, w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	svc.log().Log(r.Context(), level, "request failed", "path", r.URL.Path, "status", status, "err", err)
	writeError(w, status, messageOf(err, status))
}

func handleHealth(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"collections": svc.StoreCounts(r.Context()),
			"sessions":    svc.Convo.Len(),
		})
	}
}

func handleChat(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if !decode(w, r, &req) {
			return
		}
		resp, err := svc.Ask(r.Context(), req)
		if err != nil {
			fail(svc, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleReset(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if !decode(w, r, &req) {
			return
		}
		removed, kept, err := svc.Reset(r.Context(), req.SessionID)
		if err != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
			fail(svc, w, r, err)
			return
		}
		body := map[string]any{"session_id": req.SessionID, "removed": removed, "kept": kept}
		if err != nil {
			// The session is reset; only the memory points could not be cleared.
			svc.log().Warn("episodic memory not cleared", "session", req.SessionID, "err", err)
			body["memory_cleared"] = false
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func handleHistory(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session_id")
		archived := r.URL.Query().Get("archived") == "true"
		turns, err := svc.History(r.Context(), id, archived)
		if err != nil {
			fail(svc, w, r, err)
			return
		}
		if turns == nil {
			turns = []domain.Turn{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": turns})
	}
}

func handleReport(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReportRequest
		if !decode(w, r, &req) {
			return
		}
		turn, sessionID, err := svc.Report(r.Context(), req)
		if err != nil {
			fail(svc, w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session_id": sessionID, "turn": turn})
	}
}

func handleImage(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		path, ok := svc.ImagePath(id)
		if !ok {
			writeError(w, http.StatusNotFound, "image not offered")
			return
		}
		f, err := os.Open(path)
		if err != nil {
			svc.log().Warn("evidence image unreadable", "id", id, "path", path, "err", err)
			writeError(w, http.StatusNotFound, "image unavailable")
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			writeError(w, http.StatusNotFound, "image unavailable")
			return
		}
		http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
	}
}
