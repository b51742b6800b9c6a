package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxIdleLimiters bounds the key map before idle buckets are swept.
const maxIdleLimiters = 10000

// MemoryLimiter is a per-process token bucket per key. A full bucket holds
// Limit tokens and refills one token every Window/Limit.
type MemoryLimiter struct {
	mu       sync.Mutex
	rule     Rule
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewMemoryLimiter(rule Rule) *MemoryLimiter {
	return &MemoryLimiter{
		rule:     rule,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	if !l.rule.Enabled() {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	limiter := l.limiter(key, now)

	reservation := limiter.ReserveN(now, 1)
	decision := Decision{Limit: l.rule.Limit}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		decision.RetryAfter = delay
		decision.Reset = now.Add(delay)
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = int(limiter.TokensAt(now))
	decision.Reset = now.Add(l.refill() * time.Duration(l.rule.Limit-decision.Remaining))
	return decision, nil
}

func (l *MemoryLimiter) limiter(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters[key]; ok {
		return limiter
	}
	if len(l.limiters) >= maxIdleLimiters {
		l.sweep(now)
	}
	limiter := rate.NewLimiter(rate.Every(l.refill()), l.rule.Limit)
	l.limiters[key] = limiter
	return limiter
}

// sweep drops buckets that have fully refilled; they carry no state.
func (l *MemoryLimiter) sweep(now time.Time) {
	for key, limiter := range l.limiters {
		if limiter.TokensAt(now) >= float64(l.rule.Limit) {
			delete(l.limiters, key)
		}
	}
}

func (l *MemoryLimiter) refill() time.Duration {
	return l.rule.Window / time.Duration(l.rule.Limit)
}

var _ Limiter = (*MemoryLimiter)(nil)
