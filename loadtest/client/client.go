// Package client provides a reusable WebSocket load test client for the
// matcher. It connects using gobwas/ws (the same library the server uses),
// records the connection id from session_created, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeRequestMatch       = "request_match"
	TypeUserUpdateReady    = "user_update_ready"
	TypeStartCollaboration = "start_collaboration"
	TypeCancelMatch        = "cancel_match"
	TypePing               = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated        = "session_created"
	TypeWaiting               = "waiting"
	TypeMatched               = "matched"
	TypeNoMatch               = "no_match"
	TypePartnerReadyChange    = "partner_ready_change"
	TypeRedirectCollaboration = "redirect_collaboration"
	TypeRoomClosed            = "room_closed"
	TypeRateLimited           = "rate_limited"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	FirstMsgLatency  time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the matcher. It
// manages the WebSocket lifecycle and dispatches incoming messages to
// registered handlers.
type Client struct {
	conn    net.Conn
	dialed  time.Time
	writeMu sync.Mutex

	mu        sync.Mutex // guards everything below
	sessionID string
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)

	session   chan struct{} // closed once sessionID is known
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new load test client connected to the given WebSocket URL.
// The connection is established immediately and a background goroutine begins
// reading messages.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		dialed:   start,
		handlers: make(map[string]func(json.RawMessage)),
		session:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a specific server message type. The handler
// receives the full raw JSON of the message for flexible decoding.
// Handlers are invoked from the read loop goroutine so they should not block
// for extended periods. Registering a second handler for the same type
// replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitForSession blocks until the server has assigned a connection id or the
// context is cancelled.
func (c *Client) WaitForSession(ctx context.Context) error {
	select {
	case <-c.session:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before session was created")
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// SessionID returns the connection id assigned by the server, or an empty
// string if session_created has not arrived yet.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
				c.Close()
			}
			return
		}

		var envelope struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		if c.metrics.MessagesReceived == 0 {
			c.metrics.FirstMsgLatency = time.Since(c.dialed)
		}
		c.metrics.MessagesReceived++
		if envelope.Type == TypeSessionCreated && c.sessionID == "" && envelope.SessionID != "" {
			c.sessionID = envelope.SessionID
			close(c.session)
		}
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
