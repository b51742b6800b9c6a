package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps one sorted set of attempt timestamps per key, so every
// API replica shares the same window.
type RedisLimiter struct {
	client *redis.Client
	rule   Rule
	prefix string
	now    func() time.Time
	seq    atomic.Uint64
}

func NewRedisLimiter(client *redis.Client, rule Rule, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, rule: rule, prefix: prefix, now: time.Now}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

// slidingWindow trims the window, counts it and records the attempt in one
// step so replicas racing on the same key cannot all pass the count.
// KEYS[1] set, ARGV: now, window start, limit, member, ttl in ms.
// Returns {allowed, count before this attempt, oldest score or -1}.
var slidingWindow = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local first = -1
if #oldest > 0 then
  first = oldest[2]
end
if count >= tonumber(ARGV[3]) then
  return {0, count, first}
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {1, count, first}
`)

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if !l.rule.Enabled() {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	from := now.Add(-l.rule.Window)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)
	ttl := max(l.rule.Window.Milliseconds(), 1)

	reply, err := slidingWindow.Run(ctx, l.client, []string{l.key(key)},
		score(now), score(from), l.rule.Limit, member, ttl,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("redis sliding window: unexpected reply %v", reply)
	}

	allowed, _ := reply[0].(int64)
	count, _ := reply[1].(int64)

	decision := Decision{Limit: l.rule.Limit, Reset: now.Add(l.rule.Window)}
	if first, ok := reply[2].(string); ok {
		oldest, err := strconv.ParseFloat(first, 64)
		if err != nil {
			return Decision{}, fmt.Errorf("redis sliding window: parse score %q: %w", first, err)
		}
		decision.Reset = time.Unix(0, int64(oldest)).Add(l.rule.Window)
	}

	if allowed != 1 {
		decision.RetryAfter = decision.Reset.Sub(now)
		if decision.RetryAfter < 0 {
			decision.RetryAfter = 0
		}
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = l.rule.Limit - int(count) - 1
	return decision, nil
}

func (l *RedisLimiter) key(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

var _ Limiter = (*RedisLimiter)(nil)
