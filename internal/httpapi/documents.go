package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/okempf/inkstream/internal/transcript"
)

const defaultTurnHistoryLimit = 20

// handleGetDocument serves the authoritative server-side snapshot of a
// session's document. Clients that dropped delta events under backpressure
// resync from here.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
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

	doc, ok := s.orchestrator.Document(id)
	if !ok {
		respondError(w, http.StatusNotFound, "document_not_found", "no turn has produced a document yet")
		return
	}

	blocks := doc.Blocks()
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"active_turn_id": sess.ActiveTurnID,
		"block_count":    len(blocks),
		"blocks":         blocks,
		"markdown":       doc.Markdown(),
	})
}

// handleListTurns returns the session's transcript history, oldest first.
func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.transcripts == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcript store not configured")
		return
	}
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	limit := defaultTurnHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, err := s.transcripts.RecentTurns(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	if turns == nil {
		turns = []transcript.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      turns,
	})
}
