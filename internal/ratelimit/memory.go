package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a per-process fixed-window Limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]window
	nowF    func() time.Time
}

// NewMemoryLimiter returns an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]window),
		nowF:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, rule Rule) (Result, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Result{Allowed: true}, nil
	}
	now := l.nowF()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = window{resetAt: now.Add(rule.Window)}
		l.sweep(now)
	}
	w.count++
	l.windows[key] = w
	if w.count > rule.Limit {
		return Result{Allowed: false, Count: w.count, RetryAfter: w.resetAt.Sub(now)}, nil
	}
	return Result{Allowed: true, Count: w.count}, nil
}

// sweep drops finished windows so idle keys do not accumulate. Must be called with mu held.
func (l *MemoryLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
