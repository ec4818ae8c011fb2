package collab

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the one-start-per-match guard in process memory for
// deployments without Redis. It records no hand-off for other services.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	started map[string]startedMatch // match id -> first room
}

type startedMatch struct {
	roomID  string
	expires time.Time
}

// NewMemoryStore creates a store that forgets a match after ttl. A
// non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		started: make(map[string]startedMatch),
	}
}

// Create has the same match semantics as Store.Create.
func (m *MemoryStore) Create(_ context.Context, sess Session) error {
	if sess.MatchID == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, sm := range m.started {
		if !now.Before(sm.expires) {
			delete(m.started, id)
		}
	}
	if sm, ok := m.started[sess.MatchID]; ok {
		if sm.roomID != sess.RoomID {
			return ErrExists
		}
		return nil
	}
	m.started[sess.MatchID] = startedMatch{roomID: sess.RoomID, expires: now.Add(m.ttl)}
	return nil
}

// Len returns the number of matches currently remembered.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}
