package ws

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peerprep/matcher/internal/protocol"
	"github.com/peerprep/matcher/internal/room"
)

type reply struct {
	connID  string
	msgType string
	payload interface{}
}

type recordingSender struct {
	mu      sync.Mutex
	replies []reply
}

func (s *recordingSender) Send(connID, msgType string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{connID, msgType, payload})
	return nil
}

// pipeConn returns one end of an in-memory connection whose peer discards
// everything written to it.
func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	go func() { _, _ = io.Copy(io.Discard, client) }()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server
}

func newTestConnection(t *testing.T, id string) *Connection {
	c := &Connection{ID: id, Conn: pipeConn(t), CreatedAt: time.Now()}
	c.Touch()
	return c
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

func TestDispatch_RoutesToHandler(t *testing.T) {
	sender := &recordingSender{}
	d := NewMessageDispatcher(sender, zap.NewNop())

	var got interface{}
	d.Register(protocol.TypeUserUpdateReady, func(conn *Connection, msg interface{}) {
		got = msg
	})

	d.Dispatch(&Connection{ID: "c1"}, []byte(`{"type":"user_update_ready","ready":true}`))
	assert.Equal(t, protocol.UserUpdateReadyMsg{Type: protocol.TypeUserUpdateReady, Ready: true}, got)
	assert.Empty(t, sender.replies)
}

func TestDispatch_Ping(t *testing.T) {
	sender := &recordingSender{}
	d := NewMessageDispatcher(sender, zap.NewNop())

	d.Dispatch(&Connection{ID: "c1"}, []byte(`{"type":"ping"}`))
	require.Len(t, sender.replies, 1)
	assert.Equal(t, reply{"c1", protocol.TypePong, protocol.PongMsg{}}, sender.replies[0])
}

func TestDispatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{not json`},
		{"missing type", `{"ready":true}`},
		{"unknown type", `{"type":"teleport"}`},
		{"server-only type", `{"type":"matched"}`},
		{"unregistered type", `{"type":"cancel_match"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			d := NewMessageDispatcher(sender, zap.NewNop())

			d.Dispatch(&Connection{ID: "c1"}, []byte(tt.data))
			require.Len(t, sender.replies, 1)
			assert.Equal(t, protocol.TypeError, sender.replies[0].msgType)
			msg := sender.replies[0].payload.(protocol.ErrorMsg)
			assert.Equal(t, protocol.CodeInvalidMessage, msg.Code)
		})
	}
}

func TestDispatch_NilSender(t *testing.T) {
	d := NewMessageDispatcher(nil, zap.NewNop())
	assert.NotPanics(t, func() {
		d.Dispatch(&Connection{ID: "c1"}, []byte(`{"type":"ping"}`))
	})
}

// ---------------------------------------------------------------------------
// ConnectionManager
// ---------------------------------------------------------------------------

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	a := newTestConnection(t, "a")
	b := newTestConnection(t, "b")

	cm.Add(a)
	cm.Add(b)
	assert.Equal(t, 2, cm.Count())
	assert.Same(t, a, cm.Get("a"))
	assert.Same(t, b, cm.GetByConn(b.Conn))
	assert.Len(t, cm.All(), 2)

	assert.True(t, cm.Remove("a"))
	assert.False(t, cm.Remove("a"))
	assert.Nil(t, cm.Get("a"))
	assert.Nil(t, cm.GetByConn(a.Conn))
	assert.Equal(t, 1, cm.Count())
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

func TestServer_DisconnectRunsCallbackOnce(t *testing.T) {
	s := NewServer(DefaultServerConfig(), zap.NewNop(), nil)
	var removed []string
	s.SetOnDisconnect(func(c *Connection) { removed = append(removed, c.ID) })

	c := newTestConnection(t, "c1")
	s.conns.Add(c)

	s.Disconnect("c1")
	s.Disconnect("c1")
	s.RemoveConnection(c)
	s.Disconnect("unknown")

	assert.Equal(t, []string{"c1"}, removed)
	assert.Zero(t, s.conns.Count())
}

func TestServer_SendUnknownConnection(t *testing.T) {
	s := NewServer(DefaultServerConfig(), zap.NewNop(), nil)
	assert.Error(t, s.Send("nope", protocol.TypePong, protocol.PongMsg{}))
}

func TestHeartbeat_RemovesStaleConnections(t *testing.T) {
	s := NewServer(DefaultServerConfig(), zap.NewNop(), nil)
	var removed []string
	s.SetOnDisconnect(func(c *Connection) { removed = append(removed, c.ID) })

	fresh := newTestConnection(t, "fresh")
	stale := newTestConnection(t, "stale")
	stale.lastSeen.Store(time.Now().Add(-time.Hour).UnixNano())
	s.conns.Add(fresh)
	s.conns.Add(stale)

	checkConnections(s, HeartbeatConfig{Interval: time.Second, Timeout: time.Second}, time.Now())

	assert.Equal(t, []string{"stale"}, removed)
	assert.NotNil(t, s.conns.Get("fresh"))
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := NewServer(DefaultServerConfig(), zap.NewNop(), nil)

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "matcher_connections_total")
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

type staticRooms []room.Room

func (r staticRooms) Rooms() []room.Room { return r }

func TestStatusHandler(t *testing.T) {
	rooms := staticRooms{
		{ID: "abc-u1", Owner: room.Partner{ID: "u1", ConnectionID: "c1"}},
		{ID: "abc-u2", Owner: room.Partner{ID: "u2", ConnectionID: "c2"}, Matched: true},
	}

	rec := httptest.NewRecorder()
	StatusHandler(rooms).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int         `json:"count"`
		Rooms []room.Room `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Rooms, 2)
	assert.Equal(t, "abc-u1", resp.Rooms[0].ID)
	assert.True(t, resp.Rooms[1].Matched)

	rec = httptest.NewRecorder()
	StatusHandler(rooms).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
