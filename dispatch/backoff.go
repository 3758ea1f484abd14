// Package dispatch runs the per-class worker loops that drive requests from
// the queue through device leasing, backend attempts, retry, and the
// guaranteed fallback path to exactly one terminal result.
package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes the wait before a retry attempt. Delays grow
// exponentially from Base and are capped at Max, with 10% jitter so retries
// from concurrent workers do not align.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration

	// jitterFrac replaces the random jitter fraction in tests. Nil uses
	// rand.Float64.
	jitterFrac func() float64
}

// NewBackoffPolicy creates a policy with the given bounds.
func NewBackoffPolicy(base, max time.Duration) BackoffPolicy {
	return BackoffPolicy{Base: base, Max: max}
}

// Delay returns the wait before the next attempt.
//
// failures is the number of attempts that have failed so far (>= 1). A
// non-zero backend hint overrides the computed schedule: the backend knows
// its warm-up window better than any local guess. The result is always
// clamped to the remaining request budget.
func (p BackoffPolicy) Delay(failures int, hint, remaining time.Duration) time.Duration {
	var delay time.Duration
	if hint > 0 {
		delay = hint
	} else {
		delay = p.computed(failures)
	}

	if delay > remaining {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// computed is the exponential schedule: Base * 2^(failures-1), capped,
// plus jitter.
func (p BackoffPolicy) computed(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}

	multiplier := math.Pow(2, float64(failures-1))
	delay := time.Duration(float64(p.Base) * multiplier)
	if delay > p.Max || delay <= 0 {
		delay = p.Max
	}

	frac := rand.Float64
	if p.jitterFrac != nil {
		frac = p.jitterFrac
	}
	jitter := time.Duration(frac() * 0.1 * float64(delay))
	return delay + jitter
}
