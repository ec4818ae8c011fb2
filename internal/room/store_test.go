package room

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerprep/matcher/internal/preference"
)

var pythonEasyArray = preference.Preferences{
	Languages:    []string{"python"},
	Difficulties: []string{"easy"},
	Topics:       []string{"array"},
}

func user(id string) Partner {
	return Partner{ID: id, ConnectionID: "conn-" + id}
}

func TestFindMatchOrCreate_PairsIdenticalRequesters(t *testing.T) {
	s := NewStore()

	first, matched := s.FindMatchOrCreate(user("alice"), pythonEasyArray)
	require.False(t, matched)
	assert.Equal(t, ID(pythonEasyArray.WithCode().Code, "alice"), first.ID)
	assert.Equal(t, "alice", first.Owner.ID)
	assert.Nil(t, first.Partner)

	second, matched := s.FindMatchOrCreate(user("bob"), pythonEasyArray)
	require.True(t, matched)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.Partner)
	assert.Equal(t, "bob", second.Partner.ID)
	assert.True(t, second.Matched)

	third, matched := s.FindMatchOrCreate(user("carol"), pythonEasyArray)
	require.False(t, matched)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, 2, s.Count())
}

func TestFindMatchOrCreate_OverlappingPreferencesMatch(t *testing.T) {
	s := NewStore()

	s.FindMatchOrCreate(user("alice"), preference.Preferences{
		Languages:    []string{"java", "python"},
		Difficulties: []string{"easy", "medium"},
		Topics:       []string{"array", "tree"},
	})
	r, matched := s.FindMatchOrCreate(user("bob"), pythonEasyArray)

	require.True(t, matched)
	assert.Equal(t, []string{"PYTHON"}, r.Languages())
}

func TestFindMatchOrCreate_DisjointPreferencesWait(t *testing.T) {
	s := NewStore()

	s.FindMatchOrCreate(user("alice"), pythonEasyArray)
	_, matched := s.FindMatchOrCreate(user("bob"), preference.Preferences{
		Languages:    []string{"python"},
		Difficulties: []string{"easy"},
		Topics:       []string{"graph"},
	})

	assert.False(t, matched)
	assert.Equal(t, 2, s.Count())
}

func TestFindMatchOrCreate_SameUserNeverMatchesSelf(t *testing.T) {
	s := NewStore()

	first, _ := s.FindMatchOrCreate(user("alice"), pythonEasyArray)
	again, matched := s.FindMatchOrCreate(Partner{ID: "alice", ConnectionID: "other"}, pythonEasyArray)

	assert.False(t, matched)
	assert.Equal(t, first.ID, again.ID, "duplicate request reuses the waiting room")
	assert.Equal(t, 1, s.Count())
}

func TestFindMatchOrCreate_OldestRoomWins(t *testing.T) {
	s := NewStore()

	s.FindMatchOrCreate(user("alice"), pythonEasyArray)
	s.FindMatchOrCreate(user("bob"), preference.Preferences{
		Languages:    []string{"python", "java"},
		Difficulties: []string{"easy"},
		Topics:       []string{"array"},
	})

	r, matched := s.FindMatchOrCreate(user("carol"), pythonEasyArray)
	require.True(t, matched)
	assert.Equal(t, "alice", r.Owner.ID)
}

func TestFindMatchOrCreate_ConcurrentRequestsPairExactlyOnce(t *testing.T) {
	s := NewStore()

	const n = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched = make(map[string]int)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, ok := s.FindMatchOrCreate(user(fmt.Sprintf("user-%d", i)), pythonEasyArray)
			if ok {
				mu.Lock()
				matched[r.ID]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, matched, n/2)
	for id, joins := range matched {
		assert.Equal(t, 1, joins, "room %s joined more than once", id)
	}
	for _, r := range s.List() {
		require.True(t, r.Matched)
		assert.NotEqual(t, r.Owner.ID, r.Partner.ID)
	}
}

func TestArmTimeout_RemovesUnmatchedRoom(t *testing.T) {
	s := NewStore()
	r, _ := s.FindMatchOrCreate(user("alice"), pythonEasyArray)

	expired := make(chan Room, 1)
	require.True(t, s.ArmTimeout(r.ID, 10*time.Millisecond, func(r Room) { expired <- r }))

	select {
	case got := <-expired:
		assert.Equal(t, r.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("timeout did not fire")
	}
	_, ok := s.Get(r.ID)
	assert.False(t, ok)
	assert.Empty(t, s.List())
}

func TestArmTimeout_MatchCancelsTimer(t *testing.T) {
	s := NewStore()
	r, _ := s.FindMatchOrCreate(user("alice"), pythonEasyArray)

	fired := make(chan struct{}, 1)
	s.ArmTimeout(r.ID, 20*time.Millisecond, func(Room) { fired <- struct{}{} })
	s.FindMatchOrCreate(user("bob"), pythonEasyArray)

	select {
	case <-fired:
		t.Fatal("timeout fired for a matched room")
	case <-time.After(60 * time.Millisecond):
	}
	got, ok := s.Get(r.ID)
	require.True(t, ok)
	assert.True(t, got.Matched)
	assert.False(t, s.ArmTimeout(r.ID, time.Millisecond, func(Room) {}))
}

func TestRemove_Idempotent(t *testing.T) {
	s := NewStore()
	r, _ := s.FindMatchOrCreate(user("alice"), pythonEasyArray)

	assert.True(t, s.Remove(r.ID))
	assert.False(t, s.Remove(r.ID))
	assert.False(t, s.Remove("missing"))
	assert.Zero(t, s.Count())
}

func TestRemove_StopsTimeout(t *testing.T) {
	s := NewStore()
	r, _ := s.FindMatchOrCreate(user("alice"), pythonEasyArray)

	fired := make(chan struct{}, 1)
	s.ArmTimeout(r.ID, 10*time.Millisecond, func(Room) { fired <- struct{}{} })
	s.Remove(r.ID)

	select {
	case <-fired:
		t.Fatal("timeout fired for a removed room")
	case <-time.After(40 * time.Millisecond):
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := NewStore()
	s.FindMatchOrCreate(user("alice"), pythonEasyArray)
	r, _ := s.FindMatchOrCreate(user("bob"), pythonEasyArray)

	r.Partner.ID = "mallory"
	got, _ := s.Get(r.ID)
	assert.Equal(t, "bob", got.Partner.ID)
}

func TestRoom_Other(t *testing.T) {
	s := NewStore()
	s.FindMatchOrCreate(user("alice"), pythonEasyArray)
	r, _ := s.FindMatchOrCreate(user("bob"), pythonEasyArray)

	other, ok := r.Other("conn-alice")
	require.True(t, ok)
	assert.Equal(t, "bob", other.ID)

	other, ok = r.Other("conn-bob")
	require.True(t, ok)
	assert.Equal(t, "alice", other.ID)
}

func TestMatchKey_DistinguishesRecreatedRooms(t *testing.T) {
	s := NewStore()
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }

	first, _ := s.FindMatchOrCreate(user("alice"), pythonEasyArray)
	matched, ok := s.FindMatchOrCreate(user("bob"), pythonEasyArray)
	require.True(t, ok)
	assert.Equal(t, first.MatchKey(), matched.MatchKey(), "both sides share the key")

	s.Remove(first.ID)
	clock = clock.Add(time.Millisecond)
	again, _ := s.FindMatchOrCreate(user("alice"), pythonEasyArray)

	assert.Equal(t, first.ID, again.ID)
	assert.NotEqual(t, first.MatchKey(), again.MatchKey())
}
