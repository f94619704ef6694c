package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the document streaming service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	FirstFlushSLO            time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	StreamBufferTime         time.Duration
	StreamMaxBufferSize      int
	StreamFlushOnPunctuation bool
	StreamFlushOnNewline     bool
	StreamMaxWait            time.Duration

	LLMBackendMode string
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMFallbackURL string

	ContextTurns int
	DatabaseURL  string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "inkstream"),
		AllowAnyOrigin:   false,

		StreamBufferTime:         200 * time.Millisecond,
		StreamMaxBufferSize:      15,
		StreamFlushOnPunctuation: true,
		StreamFlushOnNewline:     true,
		StreamMaxWait:            400 * time.Millisecond,

		LLMBackendMode: envOrDefault("LLM_BACKEND_MODE", "auto"),
		LLMBaseURL:     stringsTrimSpace("LLM_BASE_URL"),
		LLMAPIKey:      stringsTrimSpace("LLM_API_KEY"),
		// reasoning_content streaming matches the DeepSeek-style API
		LLMModel:       envOrDefault("LLM_MODEL", "deepseek-reasoner"),
		LLMFallbackURL: stringsTrimSpace("LLM_FALLBACK_URL"),

		ContextTurns: 4,
		DatabaseURL:  stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		FirstFlushSLO:            1 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FirstFlushSLO, err = durationFromEnv("APP_FIRST_FLUSH_SLO", cfg.FirstFlushSLO)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.StreamBufferTime, err = durationFromEnv("STREAM_BUFFER_TIME", cfg.StreamBufferTime)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamMaxBufferSize, err = intFromEnv("STREAM_MAX_BUFFER_SIZE", cfg.StreamMaxBufferSize)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamFlushOnPunctuation, err = boolFromEnv("STREAM_FLUSH_ON_PUNCTUATION", cfg.StreamFlushOnPunctuation)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamFlushOnNewline, err = boolFromEnv("STREAM_FLUSH_ON_NEWLINE", cfg.StreamFlushOnNewline)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamMaxWait, err = durationFromEnv("STREAM_MAX_WAIT", cfg.StreamMaxWait)
	if err != nil {
		return Config{}, err
	}

	cfg.ContextTurns, err = intFromEnv("APP_CONTEXT_TURNS", cfg.ContextTurns)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.StreamBufferTime <= 0 {
		return Config{}, fmt.Errorf("STREAM_BUFFER_TIME must be positive")
	}
	if cfg.StreamMaxBufferSize <= 0 {
		return Config{}, fmt.Errorf("STREAM_MAX_BUFFER_SIZE must be positive")
	}
	if cfg.StreamMaxWait <= 0 {
		return Config{}, fmt.Errorf("STREAM_MAX_WAIT must be positive")
	}
	if cfg.ContextTurns < 0 {
		return Config{}, fmt.Errorf("APP_CONTEXT_TURNS must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
