package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/peerprep/matcher/internal/collab"
	"github.com/peerprep/matcher/internal/metrics"
	"github.com/peerprep/matcher/internal/preference"
	"github.com/peerprep/matcher/internal/protocol"
	"github.com/peerprep/matcher/internal/room"
)

// State is a session's position in the matchmaking lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateWaiting
	StateMatched
	StateReady
	StateStarted
	StateCancelled
	StateDisconnected
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateRequested:    "requested",
	StateWaiting:      "waiting",
	StateMatched:      "matched",
	StateReady:        "ready",
	StateStarted:      "started",
	StateCancelled:    "cancelled",
	StateDisconnected: "disconnected",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// startable are the states from which a collaboration can be started.
var startable = []State{StateMatched, StateReady}

// Session is the matchmaking state of one connection. Every exported method
// is safe to call from any goroutine. A panic or error inside a handler
// disconnects the connection.
type Session struct {
	c      *Controller
	connID string
	log    *zap.Logger

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped per request and on leave; stale callbacks compare against it
	listener  *listener
	debounce  *time.Timer
	cancel    context.CancelFunc
	room      *room.Room
	requested time.Time
}

// ConnID returns the connection the session belongs to.
func (s *Session) ConnID() string {
	return s.connID
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the room the session is waiting in or matched through.
func (s *Session) Room() (room.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return room.Room{}, false
	}
	return *s.room, true
}

// ---------------------------------------------------------------------------
// Inbound events
// ---------------------------------------------------------------------------

// RequestMatch asks to be paired. It is ignored while a request is already
// outstanding or a room is held; otherwise the backend is consulted after
// the debounce delay.
func (s *Session) RequestMatch(user room.Partner, prefs preference.Preferences) {
	s.guard(protocol.TypeRequestMatch, func() error {
		return s.requestMatch(user, prefs)
	})
}

// UpdateReady relays this side's readiness to the partner.
func (s *Session) UpdateReady(ready bool) {
	s.guard(protocol.TypeUserUpdateReady, func() error {
		return s.updateReady(ready)
	})
}

// StartCollaboration redirects both sides of the room to a collaboration
// room on questionID.
func (s *Session) StartCollaboration(questionID string) {
	s.guard(protocol.TypeStartCollaboration, func() error {
		return s.startCollaboration(questionID)
	})
}

// Cancel abandons the outstanding request or room. The partner, if any, is
// told the room closed.
func (s *Session) Cancel() {
	s.guard(protocol.TypeCancelMatch, func() error {
		s.leave(StateCancelled)
		return nil
	})
}

// Disconnect runs the same cleanup as Cancel for a connection that is gone.
// Faults here are logged only.
func (s *Session) Disconnect() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic during disconnect cleanup", zap.Any("panic", r))
		}
	}()
	s.leave(StateDisconnected)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Session) requestMatch(user room.Partner, prefs preference.Preferences) error {
	if user.ID == "" {
		s.sendError(protocol.CodeInvalidRequest, "user id is required")
		return nil
	}
	if err := prefs.Validate(); err != nil {
		s.sendError(protocol.CodeInvalidRequest, err.Error())
		return nil
	}
	user.ConnectionID = s.connID

	gen, ok := s.begin()
	if !ok {
		s.log.Debug("duplicate match request ignored", zap.String("user_id", user.ID))
		return nil
	}

	if s.c.limiter != nil {
		if allowed, retry := s.c.limiter.Allow(context.Background(), user.ID); !allowed {
			s.transition(gen, nil, StateIdle, StateRequested)
			metrics.MatchRequests.WithLabelValues(metrics.ResultRateLimited).Inc()
			s.send(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(math.Ceil(retry.Seconds())),
			})
			return nil
		}
	}

	t := Ticket{User: user, Preferences: prefs.WithCode(), Timeout: s.c.config.Timeout}
	s.log.Debug("match requested", zap.String("user_id", user.ID), zap.String("code", t.Preferences.Code))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.state == StateRequested {
		s.debounce = time.AfterFunc(s.c.config.Debounce, func() {
			s.guard("find_match", func() error { return s.find(gen, t) })
		})
	}
	return nil
}

// begin moves an idle session to Requested and returns the new generation.
func (s *Session) begin() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle && s.state != StateCancelled {
		return 0, false
	}
	s.gen++
	s.state = StateRequested
	s.requested = time.Now()
	s.listener = &listener{s: s, gen: s.gen}
	return s.gen, true
}

func (s *Session) find(gen uint64, t Ticket) error {
	ctx, l, ok := s.startFind(gen)
	if !ok {
		return nil
	}
	if err := s.c.backend.Find(ctx, t, l); err != nil {
		metrics.MatchRequests.WithLabelValues(metrics.ResultError).Inc()
		return fmt.Errorf("matching: find: %w", err)
	}
	return nil
}

func (s *Session) startFind(gen uint64) (context.Context, *listener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state != StateRequested {
		return nil, nil, false
	}
	s.debounce = nil
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return ctx, s.listener, true
}

func (s *Session) updateReady(ready bool) error {
	roomID, ok := s.setReady(ready)
	if !ok {
		s.sendError(protocol.CodeNotMatched, "not in a matched room")
		return nil
	}
	payload, err := json.Marshal(protocol.PartnerReadyChangeMsg{Ready: ready})
	if err != nil {
		return err
	}
	s.publish(roomID, room.Event{Type: room.EventReadyChange, From: s.connID, Payload: payload})
	return nil
}

func (s *Session) setReady(ready bool) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateMatched && s.state != StateReady {
		return "", false
	}
	if ready {
		s.state = StateReady
	} else {
		s.state = StateMatched
	}
	return s.room.ID, true
}

func (s *Session) startCollaboration(questionID string) error {
	if questionID == "" {
		s.sendError(protocol.CodeInvalidRequest, "questionId is required")
		return nil
	}
	r, state, ok := s.matchedRoom()
	if state == StateStarted {
		s.sendError(protocol.CodeAlreadyStarted, "collaboration already started")
		return nil
	}
	if !ok {
		s.sendError(protocol.CodeNotMatched, "not in a matched room")
		return nil
	}

	languages := r.Languages()
	if len(languages) == 0 {
		return fmt.Errorf("matching: room %s has no language", r.ID)
	}
	language := languages[s.c.pick(len(languages))]
	id := preference.GenerateRoomID(r.Owner.ID, r.Partner.ID, questionID, language)

	log := s.log.With(zap.String("room_id", r.ID), zap.String("collab_id", id))

	if s.c.handoff != nil {
		err := s.c.handoff.Create(context.Background(), collab.Session{
			RoomID:     id,
			MatchID:    r.MatchKey(),
			Users:      [2]string{r.Owner.ID, r.Partner.ID},
			QuestionID: questionID,
			Language:   language,
		})
		switch {
		case errors.Is(err, collab.ErrExists):
			// The partner started first; its redirect reaches us over the bus.
			log.Debug("collaboration already started by partner")
			return nil
		case err != nil:
			log.Warn("collaboration hand-off not recorded", zap.Error(err))
		}
	}

	payload, err := json.Marshal(protocol.RedirectCollaborationMsg{
		ID:         id,
		Owner:      r.Owner.ID,
		Partner:    r.Partner.ID,
		QuestionID: questionID,
		Language:   language,
	})
	if err != nil {
		return err
	}
	metrics.CollaborationsStarted.Inc()
	log.Info("collaboration started", zap.String("language", language))
	// Empty From so the initiator is redirected through the same path.
	s.publish(r.ID, room.Event{Type: room.EventRedirect, Payload: payload})
	return nil
}

func (s *Session) matchedRoom() (room.Room, State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(startable, s.state) || s.room == nil || s.room.Partner == nil {
		return room.Room{}, s.state, false
	}
	return *s.room, s.state, true
}

// leave tears the session down to final. The partner hears room_closed and
// the backend drops the room.
func (s *Session) leave(final State) {
	prev, r, l := s.stop(final)
	if prev == StateRequested || prev == StateWaiting {
		metrics.MatchRequests.WithLabelValues(metrics.ResultCancelled).Inc()
	}
	if r == nil {
		return
	}
	s.log.Debug("leaving room", zap.String("room_id", r.ID), zap.Stringer("from", prev), zap.Stringer("to", final))
	s.c.bus.Unsubscribe(s.connID)
	s.publish(r.ID, room.Event{Type: room.EventClosed, From: s.connID})
	s.c.backend.Release(r.ID, l)
}

func (s *Session) stop(final State) (State, *room.Room, *listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, r, l := s.state, s.room, s.listener
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = final
	s.room = nil
	s.listener = nil
	s.gen++
	return prev, r, l
}

// ---------------------------------------------------------------------------
// Backend callbacks
// ---------------------------------------------------------------------------

// listener binds backend callbacks to the request generation that made them.
type listener struct {
	s   *Session
	gen uint64
}

func (l *listener) Waiting(r room.Room) {
	l.s.guard(protocol.TypeWaiting, func() error { return l.s.onWaiting(l, r) })
}

func (l *listener) Matched(r room.Room) {
	l.s.guard(protocol.TypeMatched, func() error { return l.s.onMatched(l, r) })
}

func (l *listener) NoMatch(r room.Room) {
	l.s.guard(protocol.TypeNoMatch, func() error { return l.s.onNoMatch(l, r) })
}

func (s *Session) onWaiting(l *listener, r room.Room) error {
	if !s.transition(l.gen, &r, StateWaiting, StateRequested) {
		if s.stale(l.gen) {
			// Left while the backend was opening the room.
			s.log.Debug("late waiting room released", zap.String("room_id", r.ID))
			s.c.backend.Release(r.ID, l)
		}
		return nil
	}
	if err := s.subscribe(r.ID); err != nil {
		return err
	}
	s.send(protocol.TypeWaiting, protocol.WaitingMsg{
		Room:    r.ID,
		Timeout: int(s.c.config.Timeout / time.Second),
	})
	return nil
}

func (s *Session) onMatched(l *listener, r room.Room) error {
	if r.Partner == nil || r.Owner.ID == r.Partner.ID {
		s.log.Warn("ignoring malformed match", zap.String("room_id", r.ID))
		return nil
	}

	elapsed, ok, stale := s.acceptMatch(l.gen, r)
	if stale {
		// Matched after we left; the other side must not wait on us.
		s.log.Debug("late match closed", zap.String("room_id", r.ID))
		s.publish(r.ID, room.Event{Type: room.EventClosed, From: s.connID})
		s.c.backend.Release(r.ID, l)
		return nil
	}
	if !ok {
		return nil
	}

	metrics.MatchRequests.WithLabelValues(metrics.ResultMatched).Inc()
	metrics.MatchDuration.Observe(elapsed.Seconds())

	if err := s.subscribe(r.ID); err != nil {
		return err
	}

	msg := protocol.MatchedMsg{Room: r.ID, Owner: r.Owner.ID}
	if r.Owner.ConnectionID == s.connID {
		msg.Partner = *r.Partner
		msg.Preferences = r.PartnerPreference
	} else {
		msg.Partner = r.Owner
	}
	s.log.Info("matched",
		zap.String("room_id", r.ID),
		zap.String("owner_id", r.Owner.ID),
		zap.String("partner_id", r.Partner.ID),
	)
	s.send(protocol.TypeMatched, msg)
	return nil
}

func (s *Session) acceptMatch(gen uint64, r room.Room) (elapsed time.Duration, ok, stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return 0, false, true
	}
	if s.state != StateRequested && s.state != StateWaiting {
		return 0, false, false
	}
	s.state = StateMatched
	s.room = &r
	return time.Since(s.requested), true, false
}

func (s *Session) onNoMatch(l *listener, r room.Room) error {
	if !s.transition(l.gen, nil, StateIdle, StateRequested, StateWaiting) {
		return nil
	}
	s.mu.Lock()
	s.room = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	metrics.MatchRequests.WithLabelValues(metrics.ResultTimeout).Inc()
	s.c.bus.Unsubscribe(s.connID)
	s.c.backend.Release(r.ID, l)
	s.send(protocol.TypeNoMatch, protocol.NoMatchMsg{})
	return nil
}

// stale reports whether gen belongs to a request the session has left.
func (s *Session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

// transition moves from one of from to to if gen is current. r, when set,
// becomes the session's room.
func (s *Session) transition(gen uint64, r *room.Room, to State, from ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || !slices.Contains(from, s.state) {
		return false
	}
	s.state = to
	if r != nil {
		cp := *r
		s.room = &cp
	}
	return true
}

// ---------------------------------------------------------------------------
// Room events
// ---------------------------------------------------------------------------

func (s *Session) subscribe(roomID string) error {
	err := s.c.bus.Subscribe(roomID, s.connID, func(ev room.Event) {
		s.guard("room_event", func() error { return s.onRoomEvent(roomID, ev) })
	})
	if err != nil {
		return fmt.Errorf("matching: subscribe room %s: %w", roomID, err)
	}
	return nil
}

func (s *Session) onRoomEvent(roomID string, ev room.Event) error {
	if ev.From == s.connID {
		return nil
	}

	switch ev.Type {
	case room.EventReadyChange:
		var msg protocol.PartnerReadyChangeMsg
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return fmt.Errorf("matching: decode ready change: %w", err)
		}
		s.send(protocol.TypePartnerReadyChange, msg)

	case room.EventRedirect:
		var msg protocol.RedirectCollaborationMsg
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return fmt.Errorf("matching: decode redirect: %w", err)
		}
		if !s.markStarted(roomID) {
			return nil
		}
		s.send(protocol.TypeRedirectCollaboration, msg)

	case room.EventClosed:
		r, l, ok := s.closeRoom(roomID)
		if !ok {
			return nil
		}
		s.log.Debug("room closed by partner", zap.String("room_id", r.ID))
		s.c.bus.Unsubscribe(s.connID)
		s.c.backend.Release(r.ID, l)
		s.send(protocol.TypeRoomClosed, protocol.RoomClosedMsg{})
	}
	return nil
}

func (s *Session) markStarted(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Only the first redirect for a room is followed.
	if s.room == nil || s.room.ID != roomID || !slices.Contains(startable, s.state) {
		return false
	}
	s.state = StateStarted
	return true
}

// closeRoom resets the session after the partner left roomID.
func (s *Session) closeRoom(roomID string) (room.Room, *listener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == nil || s.room.ID != roomID {
		return room.Room{}, nil, false
	}
	r, l := *s.room, s.listener
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateIdle
	s.room = nil
	s.listener = nil
	s.gen++
	return r, l, true
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// guard runs fn, turning a panic or returned error into a forced disconnect
// of this connection. It must be called without s.mu held.
func (s *Session) guard(event string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.fault(event, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		s.fault(event, err)
	}
}

func (s *Session) fault(event string, err error) {
	s.log.Error("handler fault, disconnecting", zap.String("event", event), zap.Error(err))
	s.c.transport.Disconnect(s.connID)
}

func (s *Session) publish(roomID string, ev room.Event) {
	if err := s.c.bus.Publish(context.Background(), roomID, ev); err != nil {
		s.log.Warn("room event not published",
			zap.String("room_id", roomID),
			zap.String("event", ev.Type),
			zap.Error(err),
		)
	}
}

func (s *Session) send(msgType string, payload interface{}) {
	if err := s.c.transport.Send(s.connID, msgType, payload); err != nil {
		s.log.Debug("send failed", zap.String("type", msgType), zap.Error(err))
	}
}

func (s *Session) sendError(code, message string) {
	s.send(protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}
