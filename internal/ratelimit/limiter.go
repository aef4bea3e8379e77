// Package ratelimit implements a fixed-window counter keyed by an opaque
// caller identity (typically a client IP). Buckets live for the process
// lifetime only and reset lazily on the first check past a window boundary.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter is safe for concurrent use. Distinct keys never interfere beyond
// contention on the single bucket map mutex.
type Limiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// Result describes the outcome of a single check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

func New(window time.Duration, limit int) *Limiter {
	return NewWithClock(window, limit, time.Now)
}

// NewWithClock lets tests drive the window arithmetic deterministically.
func NewWithClock(window time.Duration, limit int, now func() time.Time) *Limiter {
	return &Limiter{
		window:  window,
		limit:   limit,
		now:     now,
		buckets: make(map[string]*bucket),
	}
}

// Check performs an atomic check-and-increment for key. A check under the
// limit consumes one slot; a check at the limit is rejected without growing
// the count, so the counter never runs past the limit.
func (l *Limiter) Check(key string) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	if now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.count = 0
	}

	resetIn := l.window - now.Sub(b.windowStart)
	if resetIn < 0 {
		resetIn = 0
	}

	if b.count >= l.limit {
		return Result{Allowed: false, Limit: l.limit, Remaining: 0, ResetIn: resetIn}
	}

	b.count++
	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - b.count,
		ResetIn:   resetIn,
	}
}
