package marketsdk

import (
	"fmt"
	"sort"
)

// Goal selects the attribute PickModel optimizes for.
type Goal string

const (
	GoalCost     Goal = "cost"
	GoalSpeed    Goal = "speed"
	GoalQuality  Goal = "quality"
	GoalBalanced Goal = "balanced"
)

// typicalLatencyMs holds rough time-to-first-token figures per model.
// Static reference data, not measured: the optimizer re-reads the same
// tables on every call and takes no feedback from RunningStats.
var typicalLatencyMs = map[string]int{
	"gpt-4o":                     420,
	"gpt-4o-mini":                350,
	"gpt-4-turbo":                650,
	"gpt-3.5-turbo":              300,
	"claude-3-5-sonnet-20241022": 480,
	"claude-3-5-haiku-20241022":  360,
	"claude-3-opus-20240229":     900,
	"gemini-1.5-pro":             520,
	"gemini-1.5-flash":           250,
	"command-r-plus":             550,
	"command-r":                  400,
	"mistral-large-latest":       500,
	"deepseek-chat":              600,
	"llama-3.1-8b":               200,
}

// Latency for models absent from the table.
const defaultLatencyMs = 500

// qualityRank orders models strongest first.
var qualityRank = []string{
	"claude-3-opus-20240229",
	"gpt-4o",
	"claude-3-5-sonnet-20241022",
	"gemini-1.5-pro",
	"gpt-4-turbo",
	"command-r-plus",
	"mistral-large-latest",
	"gpt-4o-mini",
	"claude-3-5-haiku-20241022",
	"gemini-1.5-flash",
}

// balancedPicks lists fixed cost/quality compromise models in
// preference order.
var balancedPicks = []string{
	"gpt-4o-mini",
	"claude-3-5-haiku-20241022",
	"gemini-1.5-flash",
	"gpt-3.5-turbo",
}

// PickModel selects a model from candidates for the given goal using the
// static price, latency and quality tables. Ties break in favor of the
// earlier candidate, so results are deterministic for a fixed input order.
func PickModel(goal Goal, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}

	switch goal {
	case GoalCost:
		return minByFloat(candidates, func(m string) float64 {
			p, _ := defaultTable.Lookup(m)
			return p.Blended()
		}), nil

	case GoalSpeed:
		return minByFloat(candidates, func(m string) float64 {
			if ms, ok := typicalLatencyMs[m]; ok {
				return float64(ms)
			}
			return defaultLatencyMs
		}), nil

	case GoalQuality:
		if m, ok := firstListed(qualityRank, candidates); ok {
			return m, nil
		}
		return candidates[0], nil

	case GoalBalanced:
		if m, ok := firstListed(balancedPicks, candidates); ok {
			return m, nil
		}
		// None of the fixed picks offered: fall back to cheapest.
		return PickModel(GoalCost, candidates)

	default:
		return "", fmt.Errorf("marketsdk: unknown optimization goal %q", goal)
	}
}

// minByFloat returns the candidate with the smallest key, preserving
// input order among equals.
func minByFloat(candidates []string, key func(string) float64) string {
	ordered := make([]string, len(candidates))
	copy(ordered, candidates)

	sort.SliceStable(ordered, func(i, j int) bool {
		return key(ordered[i]) < key(ordered[j])
	})

	return ordered[0]
}

// firstListed returns the first entry of ranked that appears in candidates.
func firstListed(ranked, candidates []string) (string, bool) {
	offered := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		offered[c] = true
	}
	for _, m := range ranked {
		if offered[m] {
			return m, true
		}
	}
	return "", false
}
