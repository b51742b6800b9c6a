// Package ratelimit throttles OTP requests per (email, purpose) pair.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
}

// Limiter admits at most Limit requests per key inside a rolling window.
// Denied requests are not counted.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Rule configures a limit.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether the rule restricts anything.
func (r Rule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0
}
