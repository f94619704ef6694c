package httpapi

import "net/http"

// streamSettingsResponse exposes the active coalescing policy so clients
// and the load probe can line up expectations with the server.
type streamSettingsResponse struct {
	BufferTimeMS       int64 `json:"buffer_time_ms"`
	MaxBufferSize      int   `json:"max_buffer_size"`
	FlushOnPunctuation bool  `json:"flush_on_punctuation"`
	FlushOnNewline     bool  `json:"flush_on_newline"`
	MaxWaitMS          int64 `json:"max_wait_ms"`
	FirstFlushSLOMS    int64 `json:"first_flush_slo_ms"`
	ContextTurns       int   `json:"context_turns"`
}

func (s *Server) handleStreamSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, streamSettingsResponse{
		BufferTimeMS:       s.cfg.StreamBufferTime.Milliseconds(),
		MaxBufferSize:      s.cfg.StreamMaxBufferSize,
		FlushOnPunctuation: s.cfg.StreamFlushOnPunctuation,
		FlushOnNewline:     s.cfg.StreamFlushOnNewline,
		MaxWaitMS:          s.cfg.StreamMaxWait.Milliseconds(),
		FirstFlushSLOMS:    s.cfg.FirstFlushSLO.Milliseconds(),
		ContextTurns:       s.cfg.ContextTurns,
	})
}
