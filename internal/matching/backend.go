// Package matching runs the per-connection matchmaking lifecycle: request,
// wait or match, ready, start, and cleanup on cancel or disconnect. Pairing
// itself is delegated to a Backend, either the in-process room store or the
// broker-based distributed channel.
package matching

import (
	"context"
	"time"

	"github.com/peerprep/matcher/internal/preference"
	"github.com/peerprep/matcher/internal/room"
)

// Ticket is one match request handed to a Backend.
type Ticket struct {
	User        room.Partner
	Preferences preference.Preferences
	Timeout     time.Duration
}

// Listener receives the outcome of a Ticket. Calls may arrive on any
// goroutine and, for a pair matched concurrently, Matched may precede
// Waiting.
type Listener interface {
	// Waiting reports the room opened for the requester.
	Waiting(r room.Room)
	// Matched reports a paired room; r.Owner and r.Partner are both set.
	Matched(r room.Room)
	// NoMatch reports that r timed out or the attempt failed.
	NoMatch(r room.Room)
}

// Backend pairs tickets.
type Backend interface {
	// Find starts matching t. The outcome is delivered to l. Matching stops
	// early when ctx is cancelled.
	Find(ctx context.Context, t Ticket, l Listener) error
	// Release drops a room l was waiting in or matched through. Releasing
	// an unknown room is a no-op.
	Release(roomID string, l Listener)
	// Rooms returns the rooms this instance knows about, oldest first.
	Rooms() []room.Room
}

// RoomBus carries room events between the sessions in a room.
type RoomBus interface {
	// Subscribe delivers events for roomID to fn. A subscriber follows one
	// room at a time; subscribing again replaces the previous room.
	Subscribe(roomID, subscriberID string, fn func(room.Event)) error
	// Unsubscribe stops delivery to subscriberID.
	Unsubscribe(subscriberID string)
	// Publish sends ev to every subscriber of roomID.
	Publish(ctx context.Context, roomID string, ev room.Event) error
}

// Transport writes to client connections.
type Transport interface {
	Send(connID, msgType string, payload interface{}) error
	Disconnect(connID string)
}
