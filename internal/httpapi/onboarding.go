package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	LLMBackend      string            `json:"llm_backend"`
	TranscriptStore string            `json:"transcript_store"`
	Checks          []onboardingCheck `json:"checks"`
}

// handleOnboardingStatus reports what a fresh install still needs before it
// produces real documents instead of mock output.
func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	backend := strings.ToLower(strings.TrimSpace(s.cfg.LLMBackendMode))
	if backend == "" {
		backend = "auto"
	}
	storeMode := s.transcriptStoreMode()

	checks := make([]onboardingCheck, 0, 6)

	switch backend {
	case "http":
		check := onboardingCheck{
			ID:     "llm_backend",
			Status: "ok",
			Label:  "Generation backend",
			Detail: fmt.Sprintf("http (%s)", s.cfg.LLMModel),
		}
		if strings.TrimSpace(s.cfg.LLMAPIKey) == "" {
			check.Status = "warn"
			check.Detail = "http, no API key"
			check.Fix = "Set LLM_API_KEY if the endpoint requires authentication."
		}
		checks = append(checks, check)
	case "mock":
		checks = append(checks, onboardingCheck{
			ID:     "llm_backend",
			Status: "warn",
			Label:  "Generation backend",
			Detail: "mock output only",
			Fix:    "Set LLM_BASE_URL (and LLM_API_KEY) to stream from a real model.",
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "llm_backend",
			Status: "warn",
			Label:  "Generation backend",
			Detail: backend,
			Fix:    "Set LLM_BACKEND_MODE to http or mock.",
		})
	}

	if strings.TrimSpace(s.cfg.LLMFallbackURL) != "" {
		checks = append(checks, onboardingCheck{
			ID:     "llm_fallback",
			Status: "ok",
			Label:  "Backend fallback",
			Detail: "secondary endpoint configured",
		})
	}

	switch storeMode {
	case "postgres":
		checks = append(checks, onboardingCheck{
			ID:     "transcript_store",
			Status: "ok",
			Label:  "Turn history",
			Detail: "postgres",
		})
	case "in-memory":
		checks = append(checks, onboardingCheck{
			ID:     "transcript_store",
			Status: "warn",
			Label:  "Turn history",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to keep turn history across restarts.",
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "transcript_store",
			Status: "warn",
			Label:  "Turn history",
			Detail: storeMode,
		})
	}

	if s.cfg.AllowAnyOrigin {
		checks = append(checks, onboardingCheck{
			ID:     "ws_origin",
			Status: "warn",
			Label:  "Websocket origin policy",
			Detail: "any origin accepted",
			Fix:    "Unset APP_ALLOW_ANY_ORIGIN unless the service sits behind a trusted proxy.",
		})
	} else {
		checks = append(checks, onboardingCheck{
			ID:     "ws_origin",
			Status: "ok",
			Label:  "Websocket origin policy",
			Detail: "same-origin",
		})
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		LLMBackend:      backend,
		TranscriptStore: storeMode,
		Checks:          checks,
	})
}
