package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "transfa:rate_limit"

// Increments the window counter and returns {count, remaining ttl in ms}.
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateDecision is the outcome of one limiter hit.
type RateDecision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// RedisRateLimiter is a fixed-window counter shared by every replica. The
// window starts at the first hit for a key.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	if window < time.Second {
		window = time.Second
	}
	return &RedisRateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow counts a hit for subject within scope. A limiter without a client or
// with a non-positive limit allows everything.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope, subject string) (RateDecision, error) {
	if r == nil || r.client == nil || r.limit <= 0 {
		return RateDecision{Allowed: true}, nil
	}
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return RateDecision{Allowed: true, Limit: r.limit}, nil
	}

	windowMs := r.window.Milliseconds()
	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	raw, err := rateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Int64Slice()
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(raw) != 2 {
		return RateDecision{}, fmt.Errorf("unexpected rate limit response length %d", len(raw))
	}

	count, ttlMs := int(raw[0]), raw[1]
	if ttlMs <= 0 {
		ttlMs = windowMs
	}
	retryAfter := time.Duration(ttlMs) * time.Millisecond
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return RateDecision{
		Allowed:    count <= r.limit,
		Count:      count,
		Limit:      r.limit,
		RetryAfter: retryAfter,
	}, nil
}
