package marketsdk

import (
	"sync"
	"time"
)

// RunningStats is a snapshot of per-client usage aggregates. It is
// in-memory only and resets with the owning client; there is no
// persistence.
type RunningStats struct {
	RequestCount   int64
	TotalCost      float64
	TotalTokensIn  int64
	TotalTokensOut int64
	ByProvider     map[string]int64
	ByModel        map[string]int64
	AvgLatencyMs   float64
}

// statsTracker folds completed requests into RunningStats.
// A mutex guards every mutation so that RequestCount and TotalCost stay
// monotonic under concurrent callers.
type statsTracker struct {
	mu     sync.Mutex
	prices *PriceTable
	stats  RunningStats
}

func newStatsTracker(prices *PriceTable) *statsTracker {
	return &statsTracker{
		prices: prices,
		stats: RunningStats{
			ByProvider: make(map[string]int64),
			ByModel:    make(map[string]int64),
		},
	}
}

// record folds one completed request into the aggregates and returns its
// cost plus whether the model was listed in the price table. It never
// fails: zeroed usage fields simply contribute zero.
func (t *statsTracker) record(model string, usage Usage, latency time.Duration) (float64, bool) {
	cost, listed := t.prices.Cost(model, usage.PromptTokens, usage.CompletionTokens)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.RequestCount++
	n := float64(t.stats.RequestCount)
	t.stats.TotalCost += cost
	t.stats.TotalTokensIn += usage.PromptTokens
	t.stats.TotalTokensOut += usage.CompletionTokens
	t.stats.ByProvider[ResolveProvider(model)]++
	t.stats.ByModel[model]++
	t.stats.AvgLatencyMs = (t.stats.AvgLatencyMs*(n-1) + float64(latency.Milliseconds())) / n

	return cost, listed
}

// snapshot returns a copy of the current aggregates.
func (t *statsTracker) snapshot() RunningStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.stats
	out.ByProvider = make(map[string]int64, len(t.stats.ByProvider))
	for k, v := range t.stats.ByProvider {
		out.ByProvider[k] = v
	}
	out.ByModel = make(map[string]int64, len(t.stats.ByModel))
	for k, v := range t.stats.ByModel {
		out.ByModel[k] = v
	}
	return out
}

// reset zeroes all aggregates atomically.
func (t *statsTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats = RunningStats{
		ByProvider: make(map[string]int64),
		ByModel:    make(map[string]int64),
	}
}
