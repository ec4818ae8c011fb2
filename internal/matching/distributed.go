package matching

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/peerprep/matcher/internal/messaging"
	"github.com/peerprep/matcher/internal/preference"
	"github.com/peerprep/matcher/internal/room"
)

// Matcher is the part of messaging.Channel the distributed backend uses.
type Matcher interface {
	Match(ctx context.Context, self messaging.Envelope, timeout time.Duration, goodMatch func(messaging.Envelope) bool) (messaging.Result, error)
}

// DistributedBackend pairs tickets across matcher instances through the
// broker. Each ticket runs one channel attempt in its own goroutine.
type DistributedBackend struct {
	channel Matcher
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]room.Room // waiting rooms on this instance
}

// NewDistributedBackend creates a backend over channel.
func NewDistributedBackend(channel Matcher, log *zap.Logger) *DistributedBackend {
	return &DistributedBackend{
		channel: channel,
		log:     log.Named("distributed"),
		now:     time.Now,
		pending: make(map[string]room.Room),
	}
}

// Find reports the requester's room as waiting and starts a broker attempt.
// Whichever attempt is claimed owns the shared room.
func (b *DistributedBackend) Find(ctx context.Context, t Ticket, l Listener) error {
	prefs := t.Preferences.WithCode()
	self := messaging.Envelope{
		RoomID:     room.ID(prefs.Code, t.User.ID),
		Owner:      t.User,
		Preference: prefs,
		CreatedOn:  b.now(),
	}
	waiting := room.Room{
		ID:         self.RoomID,
		Owner:      t.User,
		Preference: prefs,
		CreatedOn:  self.CreatedOn,
	}

	b.mu.Lock()
	b.pending[waiting.ID] = waiting
	b.mu.Unlock()

	l.Waiting(waiting)

	encoded := prefs.Encode()
	goodMatch := func(cand messaging.Envelope) bool {
		return preference.Overlap(encoded, cand.Preference.Encode())
	}

	go func() {
		res, err := b.channel.Match(ctx, self, t.Timeout, goodMatch)

		b.mu.Lock()
		delete(b.pending, waiting.ID)
		b.mu.Unlock()

		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, messaging.ErrNoMatch):
				b.log.Debug("attempt timed out", zap.String("room_id", waiting.ID))
			default:
				b.log.Warn("attempt failed", zap.String("room_id", waiting.ID), zap.Error(err))
			}
			l.NoMatch(waiting)
			return
		}
		l.Matched(pairedRoom(self, res))
	}()
	return nil
}

// pairedRoom builds the shared room from a channel result.
func pairedRoom(self messaging.Envelope, res messaging.Result) room.Room {
	owner, partner := res.Peer, self
	if res.Role == messaging.RoleOwner {
		owner, partner = self, res.Peer
	}
	partnerUser := partner.Owner
	partnerPrefs := partner.Preference
	return room.Room{
		ID:                owner.RoomID,
		Owner:             owner.Owner,
		Partner:           &partnerUser,
		Preference:        owner.Preference,
		PartnerPreference: &partnerPrefs,
		Matched:           true,
		CreatedOn:         owner.CreatedOn,
	}
}

// Release is a no-op: broker attempts hold no state once they finish.
func (b *DistributedBackend) Release(string, Listener) {}

// Rooms lists the attempts still waiting on this instance.
func (b *DistributedBackend) Rooms() []room.Room {
	b.mu.Lock()
	defer b.mu.Unlock()

	rooms := make([]room.Room, 0, len(b.pending))
	for _, r := range b.pending {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedOn.Before(rooms[j].CreatedOn)
	})
	return rooms
}
