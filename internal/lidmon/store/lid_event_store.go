package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

// LidSwitchRecord is one row of lid_switch_events.
type LidSwitchRecord struct {
	ID       int64 `json:"id"`
	Created  int64 `json:"created"`   // unix seconds
	LidState int   `json:"lid_state"` // 0 or 1, as reported by the device
}

func (r LidSwitchRecord) CreatedTime() time.Time { return time.Unix(r.Created, 0).UTC() }

// ListFilter narrows List. Zero values mean "no bound".
type ListFilter struct {
	AfterID int64 // only records with id > AfterID
	Since   int64 // only records with created >= Since
	Limit   int
	Desc    bool // newest first
}

// LidEventStore persists lid transitions as an append-only log.
type LidEventStore interface {
	// EnsureSchema creates the schema if absent. Idempotent; never touches
	// existing records.
	EnsureSchema(ctx context.Context) error
	// Record writes exactly one record for ev.
	Record(ctx context.Context, ev types.SwitchEvent) error
	List(ctx context.Context, f ListFilter) ([]LidSwitchRecord, error)
	Count(ctx context.Context) (int64, error)
}
