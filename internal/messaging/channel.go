package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/peerprep/matcher/internal/metrics"
	"github.com/peerprep/matcher/internal/preference"
	"github.com/peerprep/matcher/internal/room"
)

// Envelope is one matching attempt as seen on the broker. ReplyTo is the
// attempt's private inbox; a claim sent there carries the claimer's own
// envelope.
type Envelope struct {
	RoomID        string                 `json:"roomId"`
	Owner         room.Partner           `json:"owner"`
	Preference    preference.Preferences `json:"preference"`
	CorrelationID string                 `json:"correlationId"`
	ReplyTo       string                 `json:"replyTo"`
	CreatedOn     time.Time              `json:"createdOn"`
}

// before orders attempts by age, then correlation id. Only an older attempt
// claims a newer one, so two attempts never claim each other.
func (e Envelope) before(o Envelope) bool {
	if !e.CreatedOn.Equal(o.CreatedOn) {
		return e.CreatedOn.Before(o.CreatedOn)
	}
	return e.CorrelationID < o.CorrelationID
}

// Role says which side of the pairing an attempt ended up on.
type Role int

const (
	// RoleOwner: another attempt claimed ours; our room is the shared room.
	RoleOwner Role = iota
	// RolePartner: we claimed another attempt and joined its room.
	RolePartner
)

func (r Role) String() string {
	if r == RoleOwner {
		return "owner"
	}
	return "partner"
}

// Result is a successful pairing. Peer is the other attempt's envelope.
type Result struct {
	Peer Envelope
	Role Role
}

// RoomID returns the id of the shared room.
func (r Result) RoomID(self Envelope) string {
	if r.Role == RoleOwner {
		return self.RoomID
	}
	return r.Peer.RoomID
}

// ChannelConfig tunes the distributed matching channel.
type ChannelConfig struct {
	ClaimTimeout      time.Duration // how long a claimer waits for the ack
	RebroadcastPeriod time.Duration // how often a waiting attempt republishes itself
	Grace             time.Duration // added to the caller's timeout
}

// DefaultChannelConfig returns sensible defaults.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		ClaimTimeout:      2 * time.Second,
		RebroadcastPeriod: time.Second,
		Grace:             time.Second,
	}
}

type claimReply struct {
	Accepted bool `json:"accepted"`
}

// Channel matches attempts across matcher instances. Every attempt listens
// on match.broadcast for newer compatible attempts and on its own inbox for
// claims; the first successful claim pairs the two and ends both attempts.
type Channel struct {
	client *NATSClient
	config ChannelConfig
	log    *zap.Logger

	mu      sync.Mutex
	pending map[string]Envelope // by correlation id
}

// NewChannel creates a Channel on top of client.
func NewChannel(client *NATSClient, config ChannelConfig, log *zap.Logger) *Channel {
	return &Channel{
		client:  client,
		config:  config,
		log:     log.Named("channel"),
		pending: make(map[string]Envelope),
	}
}

// Pending returns the attempts currently running on this instance.
func (c *Channel) Pending() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Envelope, 0, len(c.pending))
	for _, e := range c.pending {
		out = append(out, e)
	}
	return out
}

type attemptState int

const (
	stateOpen attemptState = iota
	stateClaiming
	stateDone
	stateClosed
)

// attempt is the local state of one Match call. Transitions happen under mu;
// done is closed exactly once, on the transition to stateDone.
type attempt struct {
	mu        sync.Mutex
	state     attemptState
	claimDone chan struct{} // non-nil while claiming
	result    Result
	done      chan struct{}
}

func (a *attempt) finish(res Result) {
	a.result = res
	a.state = stateDone
	close(a.done)
}

// close ends the attempt unless it already matched, waiting for an in-flight
// claim to settle first.
func (a *attempt) close() (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.state == stateClaiming {
		wait := a.claimDone
		a.mu.Unlock()
		<-wait
		a.mu.Lock()
	}
	if a.state == stateDone {
		return a.result, true
	}
	a.state = stateClosed
	return Result{}, false
}

// Match runs one matching attempt for self until it pairs with a compatible
// attempt, timeout plus the configured grace elapses, or ctx is cancelled.
// goodMatch decides compatibility with a broadcast candidate. It returns
// ErrNoMatch when nothing paired; broker failures are returned wrapped.
//
// self.CorrelationID and self.CreatedOn are filled in when empty; ReplyTo is
// always replaced by a fresh inbox.
func (c *Channel) Match(ctx context.Context, self Envelope, timeout time.Duration, goodMatch func(Envelope) bool) (Result, error) {
	if self.CorrelationID == "" {
		self.CorrelationID = uuid.NewString()
	}
	if self.CreatedOn.IsZero() {
		self.CreatedOn = time.Now()
	}
	conn := c.client.Conn()
	self.ReplyTo = nats.NewInbox()

	log := c.log.With(
		zap.String("correlation_id", self.CorrelationID),
		zap.String("room_id", self.RoomID),
		zap.String("user_id", self.Owner.ID),
	)

	data, err := json.Marshal(self)
	if err != nil {
		return Result{}, fmt.Errorf("messaging: marshal envelope: %w", err)
	}

	a := &attempt{done: make(chan struct{})}

	inbox, err := conn.Subscribe(self.ReplyTo, func(msg *nats.Msg) {
		c.onClaim(a, self, msg, log)
	})
	if err != nil {
		metrics.BrokerAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return Result{}, fmt.Errorf("messaging: subscribe inbox: %w", err)
	}
	defer inbox.Unsubscribe()

	broadcast, err := conn.Subscribe(SubjectMatchBroadcast, func(msg *nats.Msg) {
		c.onBroadcast(a, self, data, msg, goodMatch, log)
	})
	if err != nil {
		metrics.BrokerAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return Result{}, fmt.Errorf("messaging: subscribe broadcast: %w", err)
	}
	defer broadcast.Unsubscribe()

	c.mu.Lock()
	c.pending[self.CorrelationID] = self
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, self.CorrelationID)
		c.mu.Unlock()
	}()

	if err := c.client.Publish(SubjectMatchBroadcast, data); err != nil {
		a.close()
		metrics.BrokerAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		return Result{}, fmt.Errorf("messaging: publish envelope: %w", err)
	}
	log.Debug("attempt published")

	deadline := time.NewTimer(timeout + c.config.Grace)
	defer deadline.Stop()
	rebroadcast := time.NewTicker(c.config.RebroadcastPeriod)
	defer rebroadcast.Stop()

wait:
	for {
		select {
		case <-a.done:
			break wait
		case <-deadline.C:
			break wait
		case <-ctx.Done():
			break wait
		case <-rebroadcast.C:
			if err := c.client.Publish(SubjectMatchBroadcast, data); err != nil {
				log.Warn("rebroadcast failed", zap.Error(err))
			}
		}
	}

	res, ok := a.close()
	if !ok {
		metrics.BrokerAttempts.WithLabelValues(metrics.OutcomeTimeout).Inc()
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		return Result{}, ErrNoMatch
	}

	outcome := metrics.OutcomeOwner
	if res.Role == RolePartner {
		outcome = metrics.OutcomeClaimed
	}
	metrics.BrokerAttempts.WithLabelValues(outcome).Inc()
	log.Info("attempt matched",
		zap.Stringer("role", res.Role),
		zap.String("peer_correlation_id", res.Peer.CorrelationID),
	)
	return res, nil
}

// onClaim handles a claim arriving on the attempt's inbox. Only an open
// attempt accepts; the first accepted claim wins.
func (c *Channel) onClaim(a *attempt, self Envelope, msg *nats.Msg, log *zap.Logger) {
	var claimer Envelope
	if err := json.Unmarshal(msg.Data, &claimer); err != nil {
		log.Warn("malformed claim", zap.Error(err))
		respond(msg, false)
		return
	}
	if claimer.CorrelationID == self.CorrelationID {
		return
	}

	a.mu.Lock()
	if a.state != stateOpen {
		a.mu.Unlock()
		respond(msg, false)
		return
	}
	a.finish(Result{Peer: claimer, Role: RoleOwner})
	a.mu.Unlock()

	respond(msg, true)
}

// onBroadcast considers another attempt's broadcast and claims it when it is
// newer, owned by someone else, and compatible.
func (c *Channel) onBroadcast(a *attempt, self Envelope, selfData []byte, msg *nats.Msg, goodMatch func(Envelope) bool, log *zap.Logger) {
	var cand Envelope
	if err := json.Unmarshal(msg.Data, &cand); err != nil {
		log.Warn("malformed broadcast", zap.Error(err))
		return
	}
	if cand.CorrelationID == self.CorrelationID || cand.Owner.ID == self.Owner.ID {
		return
	}
	if !self.before(cand) || !goodMatch(cand) {
		return
	}

	a.mu.Lock()
	if a.state != stateOpen {
		a.mu.Unlock()
		return
	}
	a.state = stateClaiming
	settled := make(chan struct{})
	a.claimDone = settled
	a.mu.Unlock()

	err := c.claim(cand, selfData)

	a.mu.Lock()
	if err == nil {
		a.finish(Result{Peer: cand, Role: RolePartner})
	} else {
		a.state = stateOpen
		if errors.Is(err, ErrClaimRejected) {
			metrics.BrokerAttempts.WithLabelValues(metrics.OutcomeRejected).Inc()
		}
		log.Debug("claim failed", zap.String("peer_correlation_id", cand.CorrelationID), zap.Error(err))
	}
	a.claimDone = nil
	close(settled)
	a.mu.Unlock()
}

// claim sends our envelope to the candidate's inbox and waits for its ack.
func (c *Channel) claim(cand Envelope, selfData []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ClaimTimeout)
	defer cancel()

	reply, err := c.client.Conn().RequestWithContext(ctx, cand.ReplyTo, selfData)
	if err != nil {
		return fmt.Errorf("messaging: claim %s: %w", cand.CorrelationID, err)
	}
	var r claimReply
	if err := json.Unmarshal(reply.Data, &r); err != nil {
		return fmt.Errorf("messaging: claim reply: %w", err)
	}
	if !r.Accepted {
		return ErrClaimRejected
	}
	return nil
}

func respond(msg *nats.Msg, accepted bool) {
	data, _ := json.Marshal(claimReply{Accepted: accepted})
	_ = msg.Respond(data)
}
