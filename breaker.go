package marketsdk

import (
	"sync"
	"time"
)

const (
	breakerFailureThreshold = 3
	breakerFailureWindow    = 5 * time.Minute
	breakerOpenPeriod       = 30 * time.Second
)

// BreakerState describes the circuit state of the backend endpoint.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a sliding-window circuit breaker for the unified backend.
// After breakerFailureThreshold failures within breakerFailureWindow the
// circuit opens; after breakerOpenPeriod it half-opens to let one probe
// through.
type Breaker struct {
	mu       sync.Mutex
	now      func() time.Time
	state    BreakerState
	failures []time.Time
	openedAt time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock sets the time source, letting tests drive the
// open→half-open transition without sleeping.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker creates a closed Breaker.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state, transitioning open→half-open once the
// open period has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= breakerOpenPeriod {
		b.state = BreakerHalfOpen
	}
	return b.state
}

// Allow reports whether a request may be dispatched.
func (b *Breaker) Allow() bool {
	return b.State() != BreakerOpen
}

// RecordSuccess closes the circuit and clears the failure window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = b.failures[:0]
}

// RecordFailure adds a failure to the sliding window and opens the
// circuit once the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		return
	}

	now := b.now()

	// A failed half-open probe reopens immediately.
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = now
		b.failures = append(b.failures[:0], now)
		return
	}

	// Prune failures outside the window.
	cutoff := now.Add(-breakerFailureWindow)
	valid := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	b.failures = append(valid, now)

	if len(b.failures) >= breakerFailureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
	}
}
