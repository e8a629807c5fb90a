// Package notify fans recorded lid transitions out to other processes.
package notify

import (
	"context"
	"time"
)

// Topic constants. Publishers may prefix them (see NATSPublisher).
const (
	TopicSwitchChanged = "switch.changed"
	TopicSessionEnded  = "session.ended"
)

// SwitchChanged is published after a transition has been durably recorded.
type SwitchChanged struct {
	Seat       string    `json:"seat"`
	Switch     string    `json:"switch"`
	State      int       `json:"state"`
	Created    int64     `json:"created"`
	ObservedAt time.Time `json:"observed_at"`
}

// SessionEnded is published when a capture session ends.
type SessionEnded struct {
	SessionID string    `json:"session_id"`
	Seat      string    `json:"seat"`
	EndedAt   time.Time `json:"ended_at"`
	Reason    string    `json:"reason"`
}

// Publisher delivers events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
