package httpapi

import "net/http"

// handlePerfStream reports the rolling streaming-latency window. ?reset=1
// clears the window after the snapshot, which the load probe uses between
// runs.
func (s *Server) handlePerfStream(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	snapshot := s.metrics.SnapshotStreamStages()
	if r.URL.Query().Get("reset") == "1" {
		s.metrics.ResetStreamStages()
	}
	respondJSON(w, http.StatusOK, snapshot)
}
