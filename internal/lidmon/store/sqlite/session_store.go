package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/lidmon/internal/db"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
)

type SessionStore struct {
	cfg    dbpkg.Config
	writer *dbpkg.Worker
}

var _ store.SessionStore = (*SessionStore)(nil)

func NewSessionStore(cfg dbpkg.Config, writer *dbpkg.Worker) *SessionStore {
	return &SessionStore{cfg: cfg, writer: writer}
}

func (s *SessionStore) StartSession(ctx context.Context, rec store.SessionRecord) error {
	id := strings.TrimSpace(rec.SessionID)
	if id == "" {
		return wrapErr("StartSession", store.WriteFailed, fmt.Errorf("session_id is required"))
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	startedMs := rec.StartedAt.UTC().UnixMilli()

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO capture_sessions(session_id, seat, started_at, last_seen_at)
VALUES (?, ?, ?, ?);
`, id, rec.Seat, startedMs, startedMs); err != nil {
			return fmt.Errorf("StartSession insert: %w", err)
		}
		return nil
	})
	return wrapErr("StartSession", store.WriteFailed, err)
}

// TouchSession refreshes last_seen_at. A no-op for ended or unknown sessions.
func (s *SessionStore) TouchSession(ctx context.Context, sessionID string, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := t.UTC().UnixMilli()

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE capture_sessions
SET last_seen_at = ?
WHERE session_id = ? AND ended_at IS NULL;
`, ms, sessionID); err != nil {
			return fmt.Errorf("TouchSession update: %w", err)
		}
		return nil
	})
	return wrapErr("TouchSession", store.WriteFailed, err)
}

func (s *SessionStore) EndSession(ctx context.Context, sessionID string, t time.Time, reason string) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := t.UTC().UnixMilli()

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE capture_sessions
SET last_seen_at = ?,
    ended_at     = ?,
    end_reason   = ?
WHERE session_id = ? AND ended_at IS NULL;
`, ms, ms, reason, sessionID); err != nil {
			return fmt.Errorf("EndSession update: %w", err)
		}
		return nil
	})
	return wrapErr("EndSession", store.WriteFailed, err)
}

// LatestSession returns the most recently started session, or nil if there is none.
func (s *SessionStore) LatestSession(ctx context.Context) (*store.SessionRecord, error) {
	conn, err := dbpkg.Open(ctx, s.cfg)
	if err != nil {
		return nil, wrapErr("LatestSession", store.OpenFailed, err)
	}
	defer conn.Close()

	var (
		rec       store.SessionRecord
		startedMs int64
		seenMs    int64
		endedMs   sql.NullInt64
		reason    sql.NullString
	)
	err = conn.QueryRowContext(ctx, `
SELECT session_id, seat, started_at, last_seen_at, ended_at, end_reason
FROM capture_sessions
ORDER BY started_at DESC, rowid DESC
LIMIT 1;
`).Scan(&rec.SessionID, &rec.Seat, &startedMs, &seenMs, &endedMs, &reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("LatestSession", store.ReadFailed, err)
	}

	rec.StartedAt = time.UnixMilli(startedMs).UTC()
	rec.LastSeenAt = time.UnixMilli(seenMs).UTC()
	if endedMs.Valid {
		t := time.UnixMilli(endedMs.Int64).UTC()
		rec.EndedAt = &t
	}
	rec.EndReason = reason.String
	return &rec, nil
}
