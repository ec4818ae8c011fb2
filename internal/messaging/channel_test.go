package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peerprep/matcher/internal/preference"
	"github.com/peerprep/matcher/internal/room"
)

// newTestClient requires a NATS server on localhost:4222 and skips
// otherwise.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	config := DefaultNATSConfig()
	config.Name = "matcher-test"
	config.MaxReconnects = 0
	client, err := NewNATSClient(config, zap.NewNop())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func testChannel(client *NATSClient) *Channel {
	return NewChannel(client, ChannelConfig{
		ClaimTimeout:      500 * time.Millisecond,
		RebroadcastPeriod: 50 * time.Millisecond,
		Grace:             50 * time.Millisecond,
	}, zap.NewNop())
}

func envelope(userID string, languages ...string) Envelope {
	prefs := preference.Preferences{
		Languages:    languages,
		Difficulties: []string{"easy"},
		Topics:       []string{"array"},
	}.WithCode()
	return Envelope{
		RoomID:     room.ID(prefs.Code, userID),
		Owner:      room.Partner{ID: userID, ConnectionID: "conn-" + userID},
		Preference: prefs,
	}
}

func overlapsWith(self Envelope) func(Envelope) bool {
	return func(cand Envelope) bool {
		return preference.Overlap(self.Preference.Encode(), cand.Preference.Encode())
	}
}

type outcome struct {
	res Result
	err error
}

func TestChannel_PairsCompatibleAttempts(t *testing.T) {
	client := newTestClient(t)
	// Separate channels stand in for separate instances.
	a, b := testChannel(client), testChannel(client)

	alice := envelope("alice", "python")
	bob := envelope("bob", "python", "java")

	var wg sync.WaitGroup
	results := make([]outcome, 2)
	for i, run := range []struct {
		ch   *Channel
		self Envelope
	}{{a, alice}, {b, bob}} {
		wg.Add(1)
		go func(i int, ch *Channel, self Envelope) {
			defer wg.Done()
			res, err := ch.Match(context.Background(), self, 2*time.Second, overlapsWith(self))
			results[i] = outcome{res, err}
		}(i, run.ch, run.self)
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	require.NoError(t, results[0].err)
	require.NoError(t, results[1].err)

	// Alice started first, so she claims Bob and joins his room.
	assert.Equal(t, RolePartner, results[0].res.Role)
	assert.Equal(t, RoleOwner, results[1].res.Role)
	assert.Equal(t, "bob", results[0].res.Peer.Owner.ID)
	assert.Equal(t, "alice", results[1].res.Peer.Owner.ID)
	assert.Equal(t, bob.RoomID, results[0].res.RoomID(alice))
	assert.Equal(t, bob.RoomID, results[1].res.RoomID(bob))
}

func TestChannel_IncompatibleAttemptsTimeOut(t *testing.T) {
	client := newTestClient(t)
	ch := testChannel(client)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, self := range []Envelope{envelope("carol", "cpp"), envelope("dave", "go")} {
		wg.Add(1)
		go func(i int, self Envelope) {
			defer wg.Done()
			_, errs[i] = ch.Match(context.Background(), self, 150*time.Millisecond, overlapsWith(self))
		}(i, self)
	}
	wg.Wait()

	assert.ErrorIs(t, errs[0], ErrNoMatch)
	assert.ErrorIs(t, errs[1], ErrNoMatch)
	assert.Empty(t, ch.Pending())
}

func TestChannel_SameUserNeverPairs(t *testing.T) {
	client := newTestClient(t)
	ch := testChannel(client)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			self := envelope("erin", "python")
			_, errs[i] = ch.Match(context.Background(), self, 150*time.Millisecond, overlapsWith(self))
		}(i)
	}
	wg.Wait()

	assert.ErrorIs(t, errs[0], ErrNoMatch)
	assert.ErrorIs(t, errs[1], ErrNoMatch)
}

func TestChannel_ThreeAttemptsPairOnce(t *testing.T) {
	client := newTestClient(t)
	ch := testChannel(client)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched []Result
		missed  int
	)
	for _, id := range []string{"f1", "f2", "f3"} {
		wg.Add(1)
		go func(self Envelope) {
			defer wg.Done()
			res, err := ch.Match(context.Background(), self, 500*time.Millisecond, overlapsWith(self))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				missed++
				return
			}
			matched = append(matched, res)
		}(envelope(id, "python"))
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	require.Len(t, matched, 2)
	assert.Equal(t, 1, missed)
	assert.NotEqual(t, matched[0].Role, matched[1].Role)
}

func TestChannel_ContextCancel(t *testing.T) {
	client := newTestClient(t)
	ch := testChannel(client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	self := envelope("gina", "python")
	start := time.Now()
	_, err := ch.Match(ctx, self, 10*time.Second, overlapsWith(self))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestChannel_ClaimWithoutResponderFails(t *testing.T) {
	client := newTestClient(t)
	ch := testChannel(client)

	err := ch.claim(Envelope{ReplyTo: nats.NewInbox(), CorrelationID: "gone"}, []byte(`{}`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrClaimRejected)
}

func TestChannel_OpenAttemptAcceptsFirstClaimOnly(t *testing.T) {
	client := newTestClient(t)
	ch := testChannel(client)

	self := envelope("hank", "python")
	self.CorrelationID = "hank-attempt"
	got := make(chan outcome, 1)
	go func() {
		// goodMatch never fires, so only inbound claims can pair this attempt.
		res, err := ch.Match(context.Background(), self, time.Second, func(Envelope) bool { return false })
		got <- outcome{res, err}
	}()

	var inbox string
	require.Eventually(t, func() bool {
		for _, e := range ch.Pending() {
			if e.CorrelationID == self.CorrelationID {
				inbox = e.ReplyTo
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	first, _ := json.Marshal(envelope("ivan", "python"))
	second, _ := json.Marshal(envelope("jane", "python"))
	require.NoError(t, ch.claim(Envelope{ReplyTo: inbox, CorrelationID: "ivan"}, first))
	assert.ErrorIs(t, ch.claim(Envelope{ReplyTo: inbox, CorrelationID: "jane"}, second), ErrClaimRejected)

	select {
	case o := <-got:
		require.NoError(t, o.err)
		assert.Equal(t, RoleOwner, o.res.Role)
		assert.Equal(t, "ivan", o.res.Peer.Owner.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("attempt did not finish")
	}
}

func TestRoomRelay_DeliversToSubscribers(t *testing.T) {
	client := newTestClient(t)
	relay := NewRoomRelay(client, zap.NewNop())

	got := make(chan room.Event, 1)
	require.NoError(t, relay.Subscribe("room-1", "sub-1", func(ev room.Event) { got <- ev }))
	defer relay.Unsubscribe("sub-1")
	require.NoError(t, client.Conn().Flush())

	require.NoError(t, relay.Publish(context.Background(), "room-1", room.Event{Type: room.EventClosed, From: "conn-x"}))

	select {
	case ev := <-got:
		assert.Equal(t, room.EventClosed, ev.Type)
		assert.Equal(t, "conn-x", ev.From)
	case <-time.After(time.Second):
		t.Fatal("room event not delivered")
	}
}
