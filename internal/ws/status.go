package ws

import (
	"encoding/json"
	"net/http"

	"github.com/peerprep/matcher/internal/room"
)

// RoomLister reports the rooms shown by the status endpoint.
type RoomLister interface {
	Rooms() []room.Room
}

// StatusHandler serves {count, rooms} for operational inspection. It is not
// authenticated or paginated.
func StatusHandler(rooms RoomLister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		list := rooms.Rooms()
		resp := struct {
			Count int         `json:"count"`
			Rooms []room.Room `json:"rooms"`
		}{
			Count: len(list),
			Rooms: list,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})
}
