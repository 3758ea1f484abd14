// Package ratelimit implements the per-user token bucket that gates
// admission into the generation pipeline.
//
// The check is O(1), never blocks, and has no side effects beyond bucket
// state, so the admission path can call it cheaply before touching the
// queue.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-user token bucket. Each user gets a bucket of capacity
// tokens that refills continuously at capacity tokens per window.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	window   time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// bucket tracks one user's remaining tokens. Refill is computed lazily from
// the timestamp of the last take, so idle buckets cost nothing.
type bucket struct {
	tokens   float64
	lastTake time.Time
}

// NewLimiter creates a limiter allowing ratePerWindow acquisitions per user
// per window. A user can burst up to ratePerWindow at once.
func NewLimiter(ratePerWindow int, window time.Duration) *Limiter {
	if ratePerWindow < 1 {
		ratePerWindow = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(ratePerWindow),
		window:   window,
		now:      time.Now,
	}
}

// NewPerMinuteLimiter creates a limiter allowing ratePerMinute acquisitions
// per user per minute, matching the messages-per-minute setting callers
// configure.
func NewPerMinuteLimiter(ratePerMinute int) *Limiter {
	return NewLimiter(ratePerMinute, time.Minute)
}

// TryAcquire takes one token from the user's bucket if available. Returns
// false without blocking when the user is over their rate; the caller
// reports "rate limited, retry shortly".
func (l *Limiter) TryAcquire(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{tokens: l.capacity, lastTake: now}
		l.buckets[userID] = b
	} else {
		// Continuous refill proportional to elapsed time.
		elapsed := now.Sub(b.lastTake)
		b.tokens += l.capacity * float64(elapsed) / float64(l.window)
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.lastTake = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tokens returns the user's current token count, refreshed to now. Intended
// for metrics and tests.
func (l *Limiter) Tokens(userID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[userID]
	if !ok {
		return l.capacity
	}
	elapsed := l.now().Sub(b.lastTake)
	tokens := b.tokens + l.capacity*float64(elapsed)/float64(l.window)
	if tokens > l.capacity {
		tokens = l.capacity
	}
	return tokens
}

// Reset clears all bucket state. Intended for tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}
