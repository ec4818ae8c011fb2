package matching

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/peerprep/matcher/internal/metrics"
	"github.com/peerprep/matcher/internal/room"
)

// LocalBackend pairs tickets through an in-process room store.
type LocalBackend struct {
	store *room.Store
	log   *zap.Logger

	// mu spans the store lookup and the listener bookkeeping so a room is
	// never matched before its owner's listener is registered.
	mu      sync.Mutex
	waiting map[string]Listener // room id -> owner listener
}

// NewLocalBackend creates a backend over store.
func NewLocalBackend(store *room.Store, log *zap.Logger) *LocalBackend {
	return &LocalBackend{
		store:   store,
		log:     log.Named("local"),
		waiting: make(map[string]Listener),
	}
}

// Find matches t against the store synchronously. A matched ticket notifies
// l and then the waiting owner; otherwise l waits until the room matches or
// t.Timeout elapses.
func (b *LocalBackend) Find(_ context.Context, t Ticket, l Listener) error {
	b.mu.Lock()
	r, matched := b.store.FindMatchOrCreate(t.User, t.Preferences)
	var owner, superseded Listener
	if matched {
		owner = b.waiting[r.ID]
		delete(b.waiting, r.ID)
	} else {
		// A repeat request from the same user reuses the room; the earlier
		// listener is told it no longer holds it.
		if prev, ok := b.waiting[r.ID]; ok && prev != l {
			superseded = prev
		}
		b.waiting[r.ID] = l
		b.store.ArmTimeout(r.ID, t.Timeout, func(expired room.Room) {
			if b.expire(expired.ID, l) {
				b.log.Debug("room timed out", zap.String("room_id", expired.ID))
				l.NoMatch(expired)
			}
		})
	}
	b.mu.Unlock()

	metrics.RoomsActive.Set(float64(b.store.Count()))

	if superseded != nil {
		superseded.NoMatch(r)
	}
	if !matched {
		b.log.Debug("room created", zap.String("room_id", r.ID), zap.String("user_id", t.User.ID))
		l.Waiting(r)
		return nil
	}

	b.log.Debug("room matched",
		zap.String("room_id", r.ID),
		zap.String("owner_id", r.Owner.ID),
		zap.String("partner_id", r.Partner.ID),
	)
	// The requester subscribes to the room before the owner hears of it, so
	// an owner that already left can still close the room on it.
	l.Matched(r)
	if owner != nil {
		owner.Matched(r)
	}
	return nil
}

// expire drops the listener for a timed-out room if it is still l.
func (b *LocalBackend) expire(roomID string, l Listener) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer metrics.RoomsActive.Set(float64(b.store.Count()))

	if b.waiting[roomID] != l {
		return false
	}
	delete(b.waiting, roomID)
	return true
}

// Release removes the room unless another listener has since taken over the
// same waiting room.
func (b *LocalBackend) Release(roomID string, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.waiting[roomID]; ok {
		if cur != l {
			return
		}
		delete(b.waiting, roomID)
	}
	if b.store.Remove(roomID) {
		b.log.Debug("room released", zap.String("room_id", roomID))
	}
	metrics.RoomsActive.Set(float64(b.store.Count()))
}

// Rooms lists the store.
func (b *LocalBackend) Rooms() []room.Room {
	return b.store.List()
}
