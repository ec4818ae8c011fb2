package room

import (
	"sync"
	"time"

	"github.com/peerprep/matcher/internal/preference"
)

// entry is the store's private record for a room.
type entry struct {
	room    Room
	encoded preference.Encoded
	expiry  *time.Timer
}

// Store is a goroutine-safe registry of rooms. Scanning for a compatible
// room and marking it matched happen under one lock, so two concurrent
// requesters can never join the same room.
type Store struct {
	mu    sync.Mutex
	order []string // room ids, oldest first
	rooms map[string]*entry
	now   func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*entry),
		now:   time.Now,
	}
}

// FindMatchOrCreate looks for the oldest unmatched room owned by someone
// else whose preferences overlap prefs in every dimension. If one exists it
// is marked matched with user as partner and returned with matched=true.
// Otherwise the user's waiting room "{code}-{userID}" is returned, created
// if it does not exist yet.
func (s *Store) FindMatchOrCreate(user Partner, prefs preference.Preferences) (Room, bool) {
	prefs = prefs.WithCode()
	enc := prefs.Encode()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		e := s.rooms[id]
		if e.room.Matched || e.room.Owner.ID == user.ID {
			continue
		}
		if !preference.Overlap(e.encoded, enc) {
			continue
		}

		partner := user
		partnerPrefs := prefs
		e.room.Matched = true
		e.room.Partner = &partner
		e.room.PartnerPreference = &partnerPrefs
		if e.expiry != nil {
			e.expiry.Stop()
			e.expiry = nil
		}
		return e.room.clone(), true
	}

	id := ID(prefs.Code, user.ID)
	if e, ok := s.rooms[id]; ok {
		return e.room.clone(), false
	}

	e := &entry{
		room: Room{
			ID:         id,
			Owner:      user,
			Preference: prefs,
			CreatedOn:  s.now(),
		},
		encoded: enc,
	}
	s.rooms[id] = e
	s.order = append(s.order, id)
	return e.room.clone(), false
}

// ArmTimeout schedules onExpire to run after d if the room is still
// unmatched by then; the room is removed before onExpire is called. The
// timer is stopped when the room matches or is removed. It returns false if
// the room is missing or already matched.
func (s *Store) ArmTimeout(id string, d time.Duration, onExpire func(Room)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rooms[id]
	if !ok || e.room.Matched {
		return false
	}
	if e.expiry != nil {
		e.expiry.Stop()
	}
	e.expiry = time.AfterFunc(d, func() {
		if r, ok := s.expire(id, e); ok {
			onExpire(r)
		}
	})
	return true
}

// expire removes e if it is still the live, unmatched entry for id.
func (s *Store) expire(id string, e *entry) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rooms[id]
	if !ok || cur != e || cur.room.Matched {
		return Room{}, false
	}
	s.removeLocked(id)
	return cur.room.clone(), true
}

// Get returns the room with the given id.
func (s *Store) Get(id string) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rooms[id]
	if !ok {
		return Room{}, false
	}
	return e.room.clone(), true
}

// Remove deletes a room and stops its timeout. Removing an absent id is a
// no-op; the return value reports whether anything was removed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id string) bool {
	e, ok := s.rooms[id]
	if !ok {
		return false
	}
	if e.expiry != nil {
		e.expiry.Stop()
	}
	delete(s.rooms, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Count returns the number of rooms, matched or not.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// List returns a snapshot of all rooms, oldest first.
func (s *Store) List() []Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]Room, 0, len(s.order))
	for _, id := range s.order {
		rooms = append(rooms, s.rooms[id].room.clone())
	}
	return rooms
}
