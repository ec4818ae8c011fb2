// Package ratelimit provides Redis-backed rate limiting using the INCR + EXPIRE
// fixed window algorithm. Each client action that needs throttling is keyed
// by a rule prefix plus the caller's identity.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:match:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleMatch allows 10 match requests per minute per user.
var RuleMatch = Rule{Key: "rl:match:", Limit: 10, Window: 1 * time.Minute}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, log *zap.Logger) *Limiter {
	return &Limiter{client: client, log: log.Named("ratelimit")}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("redis INCR failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn("redis EXPIRE failed, failing open", zap.String("key", key), zap.Error(err))
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.Warn("redis GET failed, failing open", zap.String("key", key), zap.Error(err))
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RetryAfter returns how long until the identifier's window resets. It is
// zero when no window is open.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	ttl, err := l.client.PTTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// Bound is a Limiter fixed to one rule.
type Bound struct {
	limiter *Limiter
	rule    Rule
}

// For binds the limiter to rule.
func (l *Limiter) For(rule Rule) *Bound {
	return &Bound{limiter: l, rule: rule}
}

// Allow reports whether identifier may proceed and, if not, how long it
// should wait. Redis errors fail open.
func (b *Bound) Allow(ctx context.Context, identifier string) (bool, time.Duration) {
	ok, _ := b.limiter.Allow(ctx, identifier, b.rule)
	if ok {
		return true, 0
	}
	retry := b.limiter.RetryAfter(ctx, identifier, b.rule)
	if retry <= 0 {
		retry = b.rule.Window
	}
	return false, retry
}
