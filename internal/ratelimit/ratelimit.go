// Package ratelimit counts requests per key in fixed windows. The auth service uses it to cap
// send-otp and verify-otp per phone number and per client IP.
package ratelimit

import (
	"context"
	"time"
)

// Rule is a request cap over a window. A rule with Limit <= 0 never limits.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed bool
	// Count is the number of hits in the current window, including this one.
	Count int
	// RetryAfter is how long until the window resets; zero when allowed.
	RetryAfter time.Duration
}

// Limiter records a hit for key under rule and reports whether it is within the limit.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Result, error)
}

// Nop never limits.
type Nop struct{}

func (Nop) Allow(ctx context.Context, key string, rule Rule) (Result, error) {
	return Result{Allowed: true}, nil
}
