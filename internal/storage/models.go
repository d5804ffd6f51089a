package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered (or failed) query.
type Interaction struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	SessionID    string    `json:"session_id"`
	UserQuery    string    `json:"user_query"`
	Intent       string    `json:"intent"`
	State        string    `json:"state,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	Response     string    `json:"response,omitempty"`
	CandidateIDs string    `json:"candidate_ids"` // JSON array stored as text
	LatencyMS    int64     `json:"latency_ms"`
	Status       string    `json:"status"` // "completed", "failed"
	Error        string    `json:"error,omitempty"`
}

type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"-"`
	Status      string    `json:"status"` // "pending", "running", "completed", "failed"
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
}
