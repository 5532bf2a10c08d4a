package marketsdk

import "time"

// Meter observes request lifecycle events for monitoring/logging.
type Meter interface {
	// OnRequest is called when a request is about to be dispatched.
	OnRequest(event RequestEvent)

	// OnResult is called when a request completes or fails.
	OnResult(event ResultEvent)
}

// RequestEvent describes an outgoing request.
type RequestEvent struct {
	RequestID   string
	Provider    string
	Model       string
	Stream      bool
	EstimatedIn int64
}

// ResultEvent describes the outcome of a request. PricingFallback is set
// when the model was missing from the price table and the default price
// pair was substituted.
type ResultEvent struct {
	RequestID       string
	Provider        string
	Model           string
	Stream          bool
	Success         bool
	Attempts        int
	Duration        time.Duration
	Usage           Usage
	Cost            float64
	PricingFallback bool
	MalformedFrames int
	Error           error
}
