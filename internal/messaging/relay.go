package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/peerprep/matcher/internal/room"
)

// RoomRelay fans room events out over room.<id> so both sides of a room
// hear each other even when connected to different instances.
type RoomRelay struct {
	client *NATSClient
	log    *zap.Logger
}

// NewRoomRelay creates a relay on top of client.
func NewRoomRelay(client *NATSClient, log *zap.Logger) *RoomRelay {
	return &RoomRelay{client: client, log: log.Named("relay")}
}

// Subscribe delivers events published to roomID to fn. A subscriber follows
// at most one room; subscribing again replaces the previous room.
func (r *RoomRelay) Subscribe(roomID, subscriberID string, fn func(room.Event)) error {
	return r.client.SubscribeToRoom(roomID, subscriberID, func(data []byte) {
		var ev room.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			r.log.Warn("malformed room event",
				zap.String("room_id", roomID),
				zap.String("subscriber", subscriberID),
				zap.Error(err),
			)
			return
		}
		fn(ev)
	})
}

// Unsubscribe stops delivery to subscriberID. Unknown subscribers are ignored.
func (r *RoomRelay) Unsubscribe(subscriberID string) {
	_ = r.client.UnsubscribeFromRoom(subscriberID)
}

// Publish sends ev to every subscriber of roomID.
func (r *RoomRelay) Publish(_ context.Context, roomID string, ev room.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("messaging: marshal room event: %w", err)
	}
	if err := r.client.PublishRoomEvent(roomID, data); err != nil {
		return fmt.Errorf("messaging: publish room event: %w", err)
	}
	return nil
}
