package marketsdk

import "sort"

// PriceEntry holds per-token prices in USD.
type PriceEntry struct {
	InputPerToken  float64
	OutputPerToken float64
}

// Blended returns the average of input and output price, the sort key
// used by the cost optimization goal.
func (p PriceEntry) Blended() float64 {
	return (p.InputPerToken + p.OutputPerToken) / 2
}

// DefaultPrice is applied when a model is missing from the price table.
// Deliberately conservative so unknown models still produce a nonzero
// estimate; lookups report whether the fallback was used so mispricing
// stays observable.
var DefaultPrice = PriceEntry{InputPerToken: 0.000001, OutputPerToken: 0.000003}

// builtinPrices maps model identifiers to per-token USD prices.
// Values are public list prices per 1M tokens divided down; the table is
// best-effort and may lag behind provider price changes.
var builtinPrices = map[string]PriceEntry{
	// OpenAI
	"gpt-4o":        {InputPerToken: 2.50 / 1e6, OutputPerToken: 10.00 / 1e6},
	"gpt-4o-mini":   {InputPerToken: 0.15 / 1e6, OutputPerToken: 0.60 / 1e6},
	"gpt-4-turbo":   {InputPerToken: 10.00 / 1e6, OutputPerToken: 30.00 / 1e6},
	"gpt-4":         {InputPerToken: 30.00 / 1e6, OutputPerToken: 60.00 / 1e6},
	"gpt-3.5-turbo": {InputPerToken: 0.50 / 1e6, OutputPerToken: 1.50 / 1e6},

	// Anthropic
	"claude-3-5-sonnet-20241022": {InputPerToken: 3.00 / 1e6, OutputPerToken: 15.00 / 1e6},
	"claude-3-5-haiku-20241022":  {InputPerToken: 0.80 / 1e6, OutputPerToken: 4.00 / 1e6},
	"claude-3-opus-20240229":     {InputPerToken: 15.00 / 1e6, OutputPerToken: 75.00 / 1e6},
	"claude-3-haiku-20240307":    {InputPerToken: 0.25 / 1e6, OutputPerToken: 1.25 / 1e6},

	// Google
	"gemini-1.5-pro":   {InputPerToken: 1.25 / 1e6, OutputPerToken: 5.00 / 1e6},
	"gemini-1.5-flash": {InputPerToken: 0.075 / 1e6, OutputPerToken: 0.30 / 1e6},

	// Cohere
	"command-r-plus": {InputPerToken: 2.50 / 1e6, OutputPerToken: 10.00 / 1e6},
	"command-r":      {InputPerToken: 0.15 / 1e6, OutputPerToken: 0.60 / 1e6},

	// Mistral
	"mistral-large-latest": {InputPerToken: 2.00 / 1e6, OutputPerToken: 6.00 / 1e6},
	"mistral-small-latest": {InputPerToken: 0.20 / 1e6, OutputPerToken: 0.60 / 1e6},

	// DeepSeek
	"deepseek-chat": {InputPerToken: 0.14 / 1e6, OutputPerToken: 0.28 / 1e6},

	// Local models served through ollama are free.
	"llama-3.1-8b":  {},
	"llama-3.1-70b": {},
}

// PriceTable resolves per-token prices for models.
type PriceTable struct {
	entries  map[string]PriceEntry
	fallback PriceEntry
}

var defaultTable = &PriceTable{entries: builtinPrices, fallback: DefaultPrice}

// DefaultPrices returns the built-in price table.
func DefaultPrices() *PriceTable { return defaultTable }

// NewPriceTable creates a price table from explicit entries.
// Models absent from entries are priced at fallback.
func NewPriceTable(entries map[string]PriceEntry, fallback PriceEntry) *PriceTable {
	m := make(map[string]PriceEntry, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return &PriceTable{entries: m, fallback: fallback}
}

// Models returns the listed model identifiers in sorted order.
func (t *PriceTable) Models() []string {
	out := make([]string, 0, len(t.entries))
	for m := range t.entries {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the price entry for a model. The second return value is
// false when the model is unlisted and the fallback was substituted.
func (t *PriceTable) Lookup(model string) (PriceEntry, bool) {
	if p, ok := t.entries[model]; ok {
		return p, true
	}
	return t.fallback, false
}

// Cost computes the USD cost for the given token counts. The second
// return value is false when fallback pricing was used.
func (t *PriceTable) Cost(model string, inputTokens, outputTokens int64) (float64, bool) {
	p, listed := t.Lookup(model)
	cost := float64(inputTokens)*p.InputPerToken + float64(outputTokens)*p.OutputPerToken
	return cost, listed
}

// EstimateCost returns the USD cost of a hypothetical request against the
// built-in price table. Unknown models are priced at DefaultPrice; this
// never fails.
func EstimateCost(model string, inputTokens, outputTokens int64) float64 {
	cost, _ := defaultTable.Cost(model, inputTokens, outputTokens)
	return cost
}
