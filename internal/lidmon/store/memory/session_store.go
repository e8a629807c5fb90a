package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
)

type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*store.SessionRecord
	latest   string
}

var _ store.SessionStore = (*SessionStore)(nil)

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*store.SessionRecord)}
}

func (s *SessionStore) StartSession(_ context.Context, rec store.SessionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	rec.LastSeenAt = rec.StartedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.SessionID] = &rec
	s.latest = rec.SessionID
	return nil
}

func (s *SessionStore) TouchSession(_ context.Context, sessionID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[sessionID]; ok && rec.EndedAt == nil {
		rec.LastSeenAt = t.UTC()
	}
	return nil
}

func (s *SessionStore) EndSession(_ context.Context, sessionID string, t time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[sessionID]; ok && rec.EndedAt == nil {
		u := t.UTC()
		rec.LastSeenAt = u
		rec.EndedAt = &u
		rec.EndReason = reason
	}
	return nil
}

func (s *SessionStore) LatestSession(context.Context) (*store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[s.latest]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}
