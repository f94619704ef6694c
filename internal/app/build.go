package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/okempf/inkstream/internal/config"
	"github.com/okempf/inkstream/internal/docgen"
	"github.com/okempf/inkstream/internal/httpapi"
	"github.com/okempf/inkstream/internal/llm"
	"github.com/okempf/inkstream/internal/observability"
	"github.com/okempf/inkstream/internal/session"
	"github.com/okempf/inkstream/internal/stream"
	"github.com/okempf/inkstream/internal/transcript"
)

// BackendInfo describes the generation backend the build resolved.
type BackendInfo struct {
	Mode  string
	Model string
}

// BuildResult is the wired application graph.
type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *docgen.Orchestrator
	Transcripts  transcript.Store
	Metrics      *observability.Metrics
	Backend      BackendInfo

	// Cleanup should be called on shutdown to release external resources (DB pools, etc).
	Cleanup func() error
}

// Build wires config into a ready-to-serve application graph.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	transcripts, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	backend, err := llm.New(llm.Config{
		Mode:        cfg.LLMBackendMode,
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		FallbackURL: cfg.LLMFallbackURL,
	})
	if err != nil {
		_ = transcripts.Close()
		return nil, fmt.Errorf("llm backend init failed: %w", err)
	}

	// Ensure API handlers report the backend actually running, not "auto".
	cfg.LLMBackendMode = resolveBackendMode(cfg)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	orchestrator := docgen.NewOrchestrator(
		sessions,
		backend,
		transcripts,
		metrics,
		stream.Config{
			BufferTime:         cfg.StreamBufferTime,
			MaxBufferSize:      cfg.StreamMaxBufferSize,
			FlushOnPunctuation: cfg.StreamFlushOnPunctuation,
			FlushOnNewline:     cfg.StreamFlushOnNewline,
			MaxWait:            cfg.StreamMaxWait,
		},
		cfg.FirstFlushSLO,
		cfg.ContextTurns,
	)

	sessions.SetExpireHook(func(s *session.Session) {
		orchestrator.DropSession(s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, sessions, orchestrator, transcripts, metrics)

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Transcripts:  transcripts,
		Metrics:      metrics,
		Backend: BackendInfo{
			Mode:  cfg.LLMBackendMode,
			Model: cfg.LLMModel,
		},
		Cleanup: transcripts.Close,
	}, nil
}

func resolveBackendMode(cfg config.Config) string {
	mode := strings.ToLower(strings.TrimSpace(cfg.LLMBackendMode))
	if mode != "" && mode != "auto" {
		return mode
	}
	if strings.TrimSpace(cfg.LLMBaseURL) == "" {
		return "mock"
	}
	return "http"
}
