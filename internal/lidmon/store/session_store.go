package store

import (
	"context"
	"time"
)

// SessionRecord is one row of capture_sessions.
type SessionRecord struct {
	SessionID  string     `json:"session_id"`
	Seat       string     `json:"seat"`
	StartedAt  time.Time  `json:"started_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	EndReason  string     `json:"end_reason,omitempty"`
}

// SessionStore tracks monitoring sessions so readers can tell a live monitor
// from one that stopped.
type SessionStore interface {
	StartSession(ctx context.Context, rec SessionRecord) error
	TouchSession(ctx context.Context, sessionID string, t time.Time) error
	EndSession(ctx context.Context, sessionID string, t time.Time, reason string) error
	LatestSession(ctx context.Context) (*SessionRecord, error)
}
