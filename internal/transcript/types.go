package transcript

import (
	"context"
	"time"
)

// TurnRecord stores the outcome of a single document turn: the prompt that
// drove it and the markdown snapshot of the document once the turn settled.
type TurnRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	TurnID      string    `json:"turn_id"`
	UserID      string    `json:"user_id"`
	Prompt      string    `json:"prompt"`
	Markdown    string    `json:"markdown"`
	Status      string    `json:"status"`
	FlushCount  int       `json:"flush_count"`
	Chars       int       `json:"chars"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves per-session turn history.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	// RecentTurns returns up to limit of the newest records, oldest first.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	// Mode names the backing store for health reporting.
	Mode() string
	Close() error
}
