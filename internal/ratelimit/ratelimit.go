package ratelimit

import (
	"sync"
	"time"

	"github.com/hireloop/hireloop/internal/clock"
)

// Result reports one admission decision.
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

type window struct {
	count   int64
	startAt time.Time
}

// FixedWindowLimiter admits up to limit requests per key per window. State is
// process local; replicas each enforce their own budget, so the effective
// ceiling is limit multiplied by the replica count. That is an accepted
// property of this limiter, which protects a free endpoint rather than
// enforcing a billing contract.
type FixedWindowLimiter struct {
	limit    int64
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	windows map[string]*window
}

func NewFixedWindowLimiter(limit int64, interval time.Duration, clk clock.Clock) *FixedWindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &FixedWindowLimiter{
		limit:    limit,
		interval: interval,
		clock:    clk,
		windows:  map[string]*window{},
	}
}

// Allow consumes one unit of the key's budget if any remains.
func (l *FixedWindowLimiter) Allow(key string) Result {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	win, ok := l.windows[key]
	if !ok || now.Sub(win.startAt) >= l.interval {
		win = &window{startAt: now}
		l.windows[key] = win
	}

	resetAt := win.startAt.Add(l.interval)
	if win.count >= l.limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	win.count++
	return Result{Allowed: true, Remaining: l.limit - win.count, ResetAt: resetAt}
}

// Sweep drops windows that ended before now, bounding memory under churning
// keys. Correctness does not depend on it; Allow resets stale windows itself.
func (l *FixedWindowLimiter) Sweep() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, win := range l.windows {
		if now.Sub(win.startAt) >= l.interval {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
