package marketsdk

import (
	"sync"
	"time"
)

// SpendGuard accumulates dollar spend with a UTC daily reset and an
// optional hard cap. State is in-memory only; a process restart starts a
// fresh day.
type SpendGuard struct {
	mu       sync.Mutex
	now      func() time.Time
	limit    float64 // 0 = unlimited
	spent    float64
	resetDay int // day of year of the last reset
}

// SpendGuardOption configures a SpendGuard.
type SpendGuardOption func(*SpendGuard)

// WithSpendGuardClock sets the time source, letting tests cross the UTC
// day boundary without waiting.
func WithSpendGuardClock(now func() time.Time) SpendGuardOption {
	return func(g *SpendGuard) { g.now = now }
}

// NewSpendGuard creates a guard with the given daily dollar limit.
// A limit of 0 disables the cap but still tracks spend.
func NewSpendGuard(dailyLimit float64, opts ...SpendGuardOption) *SpendGuard {
	g := &SpendGuard{
		limit: dailyLimit,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.resetDay = g.now().UTC().YearDay()
	return g
}

// Allow reports whether another request fits in today's budget.
func (g *SpendGuard) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.checkReset()
	return g.limit <= 0 || g.spent < g.limit
}

// Record adds dollar spend for a completed request.
func (g *SpendGuard) Record(dollars float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.checkReset()
	g.spent += dollars
}

// Spent returns today's accumulated spend.
func (g *SpendGuard) Spent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.checkReset()
	return g.spent
}

// checkReset zeroes the accumulator when the UTC day has changed.
// Must be called with the lock held.
func (g *SpendGuard) checkReset() {
	today := g.now().UTC().YearDay()
	if today != g.resetDay {
		g.spent = 0
		g.resetDay = today
	}
}
