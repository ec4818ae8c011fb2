// Package collab records collaboration hand-offs in Redis so the
// collaboration service can verify who belongs in a room, which question it
// was opened for, and in which language.
package collab

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	SessionPrefix = "collab:"
	MatchPrefix   = "collab:match:"
	DefaultTTL    = 2 * time.Hour
)

// ErrExists is returned by Create when a different hand-off already holds
// the room id, or when the match was already started under another id.
var ErrExists = errors.New("collab: session already exists")

// Session is the hand-off record for one collaboration room. MatchID, when
// set, names the pairing the room was started from; a pairing starts at most
// one collaboration.
type Session struct {
	RoomID     string
	MatchID    string
	Users      [2]string
	QuestionID string
	Language   string
	CreatedAt  int64
}

// Has reports whether userID is one of the two participants.
func (s *Session) Has(userID string) bool {
	return userID == s.Users[0] || userID == s.Users[1]
}

// Store manages collaboration sessions in Redis.
type Store struct {
	rdb          *redis.Client
	ttl          time.Duration
	createScript *redis.Script
}

// NewStore creates a store whose records expire after ttl. A non-positive
// ttl uses DefaultTTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		rdb:          rdb,
		ttl:          ttl,
		createScript: redis.NewScript(createSessionLua),
	}
}

// Create writes the hand-off record if absent. Both participants of a room
// may call it; a repeat with the same question and language is a no-op. The
// first Create for a MatchID wins and later ones with another room id get
// ErrExists.
func (s *Store) Create(ctx context.Context, sess Session) error {
	if sess.CreatedAt == 0 {
		sess.CreatedAt = time.Now().Unix()
	}
	keys := []string{SessionPrefix + sess.RoomID}
	if sess.MatchID != "" {
		keys = append(keys, MatchPrefix+sess.MatchID)
	}
	result, err := s.createScript.Run(ctx, s.rdb, keys,
		sess.Users[0], sess.Users[1], sess.QuestionID, sess.Language,
		sess.CreatedAt, int(s.ttl.Seconds()), sess.RoomID,
	).Int()
	if err != nil {
		return fmt.Errorf("collab: create session: %w", err)
	}
	if result < 0 {
		return ErrExists
	}
	return nil
}

// Get retrieves a session. Returns nil if not found.
func (s *Store) Get(ctx context.Context, roomID string) (*Session, error) {
	result, err := s.rdb.HGetAll(ctx, SessionPrefix+roomID).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	createdAt, _ := strconv.ParseInt(result["created_at"], 10, 64)
	return &Session{
		RoomID:     roomID,
		Users:      [2]string{result["user_a"], result["user_b"]},
		QuestionID: result["question_id"],
		Language:   result["language"],
		CreatedAt:  createdAt,
	}, nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, SessionPrefix+roomID).Err()
}

// createSessionLua creates the hash with a TTL unless it already exists.
// KEYS[2], when given, pins the match to the first room id started from it.
// Returns 1 when created, 0 when an identical record exists and -1 when a
// conflicting one does.
const createSessionLua = `
local key = KEYS[1]
if #KEYS > 1 then
    local started = redis.call('GET', KEYS[2])
    if started and started ~= ARGV[7] then return -1 end
end
if redis.call('EXISTS', key) == 1 then
    local q = redis.call('HGET', key, 'question_id')
    local lang = redis.call('HGET', key, 'language')
    if q == ARGV[3] and lang == ARGV[4] then return 0 end
    return -1
end
redis.call('HSET', key,
    'user_a', ARGV[1],
    'user_b', ARGV[2],
    'question_id', ARGV[3],
    'language', ARGV[4],
    'created_at', ARGV[5])
redis.call('EXPIRE', key, tonumber(ARGV[6]))
if #KEYS > 1 then
    redis.call('SET', KEYS[2], ARGV[7], 'EX', tonumber(ARGV[6]))
end
return 1
`
