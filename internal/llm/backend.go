package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is the normalized generation request sent to a backend.
type Request struct {
	SessionID string   `json:"session_id"`
	TurnID    string   `json:"turn_id"`
	Prompt    string   `json:"prompt"`
	Context   []string `json:"context,omitempty"`
}

// Response is the final result after streaming deltas.
type Response struct {
	Text string `json:"text"`
}

// Delta is one streamed fragment: displayable markdown and/or the model's
// thinking channel. Either field may be empty, never both.
type Delta struct {
	Content   string
	Reasoning string
}

// DeltaHandler receives streaming fragments in generation order.
type DeltaHandler func(delta Delta) error

// Backend produces a generated document as a delta stream.
type Backend interface {
	StreamDocument(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Config controls backend construction.
type Config struct {
	Mode        string
	BaseURL     string
	APIKey      string
	Model       string
	FallbackURL string
}

// New builds a backend for the configured mode. Auto picks the HTTP
// backend when a base URL is configured and the mock otherwise; a fallback
// URL pairs the primary with a second HTTP backend.
func New(cfg Config) (Backend, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return NewMockBackend(), nil
		}
		return newHTTPChain(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("llm base url is required for http mode")
		}
		return newHTTPChain(cfg), nil
	case "mock":
		return NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported llm backend mode %q", cfg.Mode)
	}
}

func newHTTPChain(cfg Config) Backend {
	primary := NewHTTPBackend(cfg.BaseURL, cfg.APIKey, cfg.Model)
	if fallbackURL := strings.TrimSpace(cfg.FallbackURL); fallbackURL != "" {
		return NewFallbackBackend(primary, NewHTTPBackend(fallbackURL, cfg.APIKey, cfg.Model))
	}
	return primary
}
