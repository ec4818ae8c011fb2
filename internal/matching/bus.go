package matching

import (
	"context"
	"sync"

	"github.com/peerprep/matcher/internal/room"
)

// LocalBus is an in-process RoomBus for a single matcher instance. Events
// are delivered synchronously on the publisher's goroutine.
type LocalBus struct {
	mu    sync.RWMutex
	rooms map[string]map[string]func(room.Event) // room id -> subscriber -> fn
	subs  map[string]string                      // subscriber -> room id
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{
		rooms: make(map[string]map[string]func(room.Event)),
		subs:  make(map[string]string),
	}
}

func (b *LocalBus) Subscribe(roomID, subscriberID string, fn func(room.Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(subscriberID)
	members, ok := b.rooms[roomID]
	if !ok {
		members = make(map[string]func(room.Event))
		b.rooms[roomID] = members
	}
	members[subscriberID] = fn
	b.subs[subscriberID] = roomID
	return nil
}

func (b *LocalBus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(subscriberID)
}

func (b *LocalBus) removeLocked(subscriberID string) {
	roomID, ok := b.subs[subscriberID]
	if !ok {
		return
	}
	delete(b.subs, subscriberID)
	members := b.rooms[roomID]
	delete(members, subscriberID)
	if len(members) == 0 {
		delete(b.rooms, roomID)
	}
}

func (b *LocalBus) Publish(_ context.Context, roomID string, ev room.Event) error {
	b.mu.RLock()
	fns := make([]func(room.Event), 0, len(b.rooms[roomID]))
	for _, fn := range b.rooms[roomID] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}
