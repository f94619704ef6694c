package session

import "time"

// CreateRequest defines the payload for opening a new document session.
type CreateRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Title           string    `json:"title"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
