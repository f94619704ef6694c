package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/okempf/inkstream/internal/session"
)

type startTurnRequest struct {
	Prompt string `json:"prompt"`
}

type turnResponse struct {
	SessionID  string `json:"session_id"`
	TurnID     string `json:"turn_id"`
	Reason     string `json:"reason"`
	Markdown   string `json:"markdown"`
	FlushCount int    `json:"flush_count"`
	Chars      int    `json:"chars"`
	ElapsedMS  int64  `json:"elapsed_ms"`
}

// handleStartTurn runs one prompt-to-document turn over plain HTTP. With
// Accept: text/event-stream the turn's websocket events are relayed as SSE;
// otherwise the handler blocks and returns the finished document.
func (s *Server) handleStartTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", "cannot start a turn on an ended session")
		return
	}

	var req startTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		respondError(w, http.StatusBadRequest, "empty_prompt", "prompt is required")
		return
	}

	if wantsEventStream(r) {
		s.streamTurn(w, r, sess, prompt)
		return
	}

	result, err := s.orchestrator.RunTurn(r.Context(), sess, prompt, func(any) {})
	if err != nil {
		s.metrics.SessionEvents.WithLabelValues("turn_failed").Inc()
		respondError(w, http.StatusBadGateway, "turn_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, turnResponse{
		SessionID:  sess.ID,
		TurnID:     result.TurnID,
		Reason:     result.Reason,
		Markdown:   result.Markdown,
		FlushCount: result.FlushCount,
		Chars:      result.Chars,
		ElapsedMS:  result.Elapsed.Milliseconds(),
	})
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, sess *session.Session, prompt string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	out := &sseWriter{w: w, flusher: flusher}
	// A client that disconnects cancels r.Context(), which aborts the turn;
	// the sticky write error just quiets the remaining events.
	_, err := s.orchestrator.RunTurn(r.Context(), sess, prompt, func(msg any) {
		t, ok := messageTypeOf(msg)
		if !ok {
			return
		}
		_ = out.writeEvent(string(t), msg)
	})
	if err != nil {
		s.metrics.SessionEvents.WithLabelValues("turn_failed").Inc()
	}
}

// sseWriter serializes server-sent events. The buffer's deferred flush can
// emit from a timer goroutine, so writes are locked.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

func (s *sseWriter) writeEvent(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.err = err
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.err = err
		return err
	}
	s.flusher.Flush()
	return nil
}
