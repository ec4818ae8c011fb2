// Package messaging provides a NATS client wrapper for pub/sub messaging
// between matcher instances. It handles connection lifecycle, subject-based
// subscriptions, the distributed matching channel, and the per-room event
// relay.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subject patterns used across matcher instances.
const (
	SubjectMatchBroadcast = "match.broadcast"
	SubjectRoom           = "room" // + .<room_id>
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  *zap.Logger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "matcher",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, log *zap.Logger) (*NATSClient, error) {
	log = log.Named("nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Conn exposes the underlying connection for request/reply flows.
func (c *NATSClient) Conn() *nats.Conn {
	return c.conn
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally under key for later cleanup. An existing
// subscription under the same key is replaced.
func (c *NATSClient) Subscribe(key, subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	old := c.subs[key]
	c.subs[key] = sub
	c.mu.Unlock()

	if old != nil {
		_ = old.Unsubscribe()
	}
	return nil
}

// SubscribeToRoom subscribes to the room.<roomID> subject for one
// subscriber. The subscription is keyed by subscriberID so that several
// connections on the same instance can follow the same room.
func (c *NATSClient) SubscribeToRoom(roomID, subscriberID string, handler func(data []byte)) error {
	return c.Subscribe(roomKey(subscriberID), SubjectRoom+"."+roomID, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeFromRoom removes a subscriber's room subscription.
func (c *NATSClient) UnsubscribeFromRoom(subscriberID string) error {
	return c.unsubscribe(roomKey(subscriberID))
}

// PublishRoomEvent publishes data to the room.<roomID> subject.
func (c *NATSClient) PublishRoomEvent(roomID string, data []byte) error {
	return c.Publish(SubjectRoom+"."+roomID, data)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn("drain subscription", zap.String("key", key), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn("connection drain", zap.Error(err))
	}

	c.log.Info("client closed")
}

// unsubscribe removes and unsubscribes the subscription stored under key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}

func roomKey(subscriberID string) string {
	return "roomsub:" + subscriberID
}
