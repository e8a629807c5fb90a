package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

// LidEventStore is an in-memory append-only log of lid transitions.
// It is intended for use in tests and dry runs.
type LidEventStore struct {
	mu      sync.Mutex
	records []store.LidSwitchRecord
	keys    map[int64]struct{}
	nextID  int64
}

var _ store.LidEventStore = (*LidEventStore)(nil)

func NewLidEventStore() *LidEventStore {
	return &LidEventStore{keys: make(map[int64]struct{})}
}

func (s *LidEventStore) EnsureSchema(context.Context) error { return nil }

func (s *LidEventStore) Record(_ context.Context, ev types.SwitchEvent) error {
	if !ev.State.Valid() {
		return &store.Error{Kind: store.WriteFailed, Op: "Record", Err: fmt.Errorf("lid_state %d out of range", int(ev.State))}
	}
	if ev.ObservedAt.IsZero() {
		return &store.Error{Kind: store.WriteFailed, Op: "Record", Err: errors.New("event has no observation time")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !ev.SourceTime.IsZero() {
		k := ev.SourceTime.UnixNano()
		if _, ok := s.keys[k]; ok {
			return store.ErrDuplicateEvent
		}
		s.keys[k] = struct{}{}
	}

	s.nextID++
	s.records = append(s.records, store.LidSwitchRecord{
		ID:       s.nextID,
		Created:  ev.ObservedAt.Unix(),
		LidState: int(ev.State),
	})
	return nil
}

func (s *LidEventStore) List(_ context.Context, f store.ListFilter) ([]store.LidSwitchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.LidSwitchRecord, 0, len(s.records))
	for _, r := range s.records {
		if f.AfterID > 0 && r.ID <= f.AfterID {
			continue
		}
		if f.Since > 0 && r.Created < f.Since {
			continue
		}
		out = append(out, r)
	}
	if f.Desc {
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *LidEventStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

// Records returns a copy of all records.  Test-only helper.
func (s *LidEventStore) Records() []store.LidSwitchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.LidSwitchRecord, len(s.records))
	copy(out, s.records)
	return out
}
