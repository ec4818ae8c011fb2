package matching

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/peerprep/matcher/internal/collab"
)

// Config holds the session timings.
type Config struct {
	Debounce time.Duration // delay before a request reaches the backend
	Timeout  time.Duration // how long a waiting room stays open
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Debounce: 2 * time.Second,
		Timeout:  60 * time.Second,
	}
}

// Limiter throttles match requests per user.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, time.Duration)
}

// Handoff records a collaboration session for the downstream service.
type Handoff interface {
	Create(ctx context.Context, sess collab.Session) error
}

// Controller holds what every Session shares.
type Controller struct {
	backend   Backend
	bus       RoomBus
	transport Transport
	config    Config
	log       *zap.Logger

	limiter Limiter
	handoff Handoff
	pick    func(n int) int
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLimiter throttles request_match.
func WithLimiter(l Limiter) Option {
	return func(c *Controller) { c.limiter = l }
}

// WithHandoff records collaboration sessions before redirecting. The default
// keeps only the one-start-per-match guard, in memory.
func WithHandoff(h Handoff) Option {
	return func(c *Controller) { c.handoff = h }
}

// WithPicker replaces the random language choice; pick returns an index in
// [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(c *Controller) { c.pick = pick }
}

// NewController creates a Controller.
func NewController(backend Backend, bus RoomBus, transport Transport, config Config, log *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		backend:   backend,
		bus:       bus,
		transport: transport,
		config:    config,
		log:       log.Named("matcher"),
		handoff:   collab.NewMemoryStore(collab.DefaultTTL),
		pick:      rand.IntN,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the backend sessions match through.
func (c *Controller) Backend() Backend {
	return c.backend
}

// NewSession creates the matchmaking state for one connection.
func (c *Controller) NewSession(connID string) *Session {
	return &Session{
		c:      c,
		connID: connID,
		log:    c.log.With(zap.String("conn_id", connID)),
	}
}
