package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/notify"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
)

const (
	sessionIDPrefix   = "ses-"
	sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	sessionIDLength   = 12
)

// SessionHeartbeat records a capture_sessions row for the lifetime of a
// monitor and refreshes its last_seen_at on an interval, so readers can tell
// a live monitor from one that died without ending its session.
//
// An interval of 0 disables the periodic touch; the session is still
// started and ended.
type SessionHeartbeat struct {
	store     store.SessionStore
	publisher notify.Publisher
	seat      string
	id        string
	interval  time.Duration
	logger    *log.Logger
	now       func() time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// HeartbeatConfig holds the parameters for NewSessionHeartbeat.
type HeartbeatConfig struct {
	Seat string

	// IntervalSeconds is how often last_seen_at is refreshed. 0 disables it.
	IntervalSeconds int
}

// NewSessionHeartbeat creates a heartbeat with a fresh session ID but does
// not start it.
func NewSessionHeartbeat(s store.SessionStore, pub notify.Publisher, cfg HeartbeatConfig, logger *log.Logger) (*SessionHeartbeat, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	if pub == nil {
		pub = &notify.NoopPublisher{}
	}
	return &SessionHeartbeat{
		store:     s,
		publisher: pub,
		seat:      cfg.Seat,
		id:        id,
		interval:  time.Duration(cfg.IntervalSeconds) * time.Second,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		done:      make(chan struct{}),
	}, nil
}

func newSessionID() (string, error) {
	id, err := nanoid.Generate(sessionIDAlphabet, sessionIDLength)
	if err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return sessionIDPrefix + id, nil
}

func (h *SessionHeartbeat) SessionID() string { return h.id }

// Start writes the session row and begins the background touch loop.
func (h *SessionHeartbeat) Start(ctx context.Context) error {
	now := h.now()
	err := h.store.StartSession(ctx, store.SessionRecord{
		SessionID:  h.id,
		Seat:       h.seat,
		StartedAt:  now,
		LastSeenAt: now,
	})
	if err != nil {
		close(h.done)
		return fmt.Errorf("start session: %w", err)
	}

	if h.interval <= 0 {
		h.logger.Printf("session %s started seat=%s (heartbeat disabled)", h.id, h.seat)
		close(h.done)
		return nil
	}

	ctx, h.cancel = context.WithCancel(ctx)
	go h.loop(ctx)

	h.logger.Printf("session %s started seat=%s interval=%s", h.id, h.seat, h.interval)
	return nil
}

// Stop halts the touch loop, waits for it and marks the session ended with
// reason. Calls after the first are no-ops.
func (h *SessionHeartbeat) Stop(reason string) {
	h.stopOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		<-h.done

		ctx := context.Background()
		at := h.now()
		if err := h.store.EndSession(ctx, h.id, at, reason); err != nil {
			h.logger.Printf("session %s end error: %v", h.id, err)
			return
		}
		h.logger.Printf("session %s ended reason=%s", h.id, reason)

		ev := notify.SessionEnded{SessionID: h.id, Seat: h.seat, EndedAt: at, Reason: reason}
		if err := h.publisher.Publish(ctx, notify.TopicSessionEnded, ev); err != nil {
			h.logger.Printf("publish error: %v", err)
		}
	})
}

func (h *SessionHeartbeat) loop(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.touch(ctx)
		}
	}
}

func (h *SessionHeartbeat) touch(ctx context.Context) {
	if err := h.store.TouchSession(ctx, h.id, h.now()); err != nil {
		h.logger.Printf("session %s heartbeat error: %v", h.id, err)
	}
}
