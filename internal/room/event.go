package room

import "encoding/json"

// Room event types exchanged between the two sides of a room.
const (
	EventReadyChange = "partner_ready_change"
	EventRedirect    = "redirect_collaboration"
	EventClosed      = "room_closed"
)

// Event is one message published to everyone following a room. From is the
// sender's connection id; subscribers skip events they sent themselves. An
// empty From reaches every subscriber.
type Event struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
