// Package protocol defines the WebSocket message types and structures used for
// communication between the client and the matcher. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/peerprep/matcher/internal/preference"
	"github.com/peerprep/matcher/internal/room"
)

// ---------------------------------------------------------------------------
// Message type constants
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

// Error codes carried by ErrorMsg.
const (
	CodeInvalidMessage = "invalid_message"
	CodeInvalidRequest = "invalid_request"
	CodeNotMatched     = "not_matched"
	CodeAlreadyStarted = "already_started"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// RequestMatchMsg asks to be paired with someone whose preferences overlap.
type RequestMatchMsg struct {
	Type        string                 `json:"type"`
	User        room.Partner           `json:"user"`
	Preferences preference.Preferences `json:"preferences"`
}

// UserUpdateReadyMsg toggles this side's readiness; it is relayed to the
// partner.
type UserUpdateReadyMsg struct {
	Type  string `json:"type"`
	Ready bool   `json:"ready"`
}

// StartCollaborationMsg moves both sides of a matched room into a
// collaboration session on the given question.
type StartCollaborationMsg struct {
	Type       string `json:"type"`
	QuestionID string `json:"questionId"`
}

// CancelMatchMsg abandons the current request or room.
type CancelMatchMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new connection is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// WaitingMsg confirms a waiting room was opened for the requester.
type WaitingMsg struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Timeout int    `json:"timeout"` // seconds
}

// MatchedMsg tells one side of a room who the other side is. Preferences
// is only sent to the room owner and carries the partner's selection.
type MatchedMsg struct {
	Type        string                  `json:"type"`
	Room        string                  `json:"room"`
	Partner     room.Partner            `json:"partner"`
	Owner       string                  `json:"owner"`
	Preferences *preference.Preferences `json:"preferences,omitempty"`
}

// NoMatchMsg is sent when the waiting room timed out.
type NoMatchMsg struct {
	Type string `json:"type"`
}

// PartnerReadyChangeMsg relays the partner's readiness.
type PartnerReadyChangeMsg struct {
	Type  string `json:"type"`
	Ready bool   `json:"ready"`
}

// RedirectCollaborationMsg hands both sides over to the collaboration room.
type RedirectCollaborationMsg struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	Partner    string `json:"partner"`
	QuestionID string `json:"questionId"`
	Language   string `json:"language"`
}

// RoomClosedMsg is sent when the other side cancelled or disconnected.
type RoomClosedMsg struct {
	Type string `json:"type"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retryAfter"` // seconds
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeRequestMatch:
		var m RequestMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserUpdateReady:
		var m UserUpdateReadyMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStartCollaboration:
		var m StartCollaborationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelMatch:
		var m CancelMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]interface{})
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
