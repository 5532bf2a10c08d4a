package marketsdk

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client talks to the unified marketplace chat backend. Each Client owns
// its RunningStats; stats are never shared between instances.
type Client struct {
	cfg        Config
	prices     *PriceTable
	stats      *statsTracker
	spend      *SpendGuard
	meter      Meter
	dispatcher *dispatcher

	httpClient *http.Client
	breaker    *Breaker
	interval   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(c *Client) { c.meter = m }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithPricing overrides the built-in price table.
func WithPricing(t *PriceTable) Option {
	return func(c *Client) { c.prices = t }
}

// WithBreaker sets the endpoint circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithBackoffInterval sets the initial retry backoff interval
// (default 1s, doubled each retry).
func WithBackoffInterval(d time.Duration) Option {
	return func(c *Client) { c.interval = d }
}

// New creates a Client from the given config. Default components
// (built-in prices, NoopMeter, 1s backoff) are used unless overridden
// via options. A missing API key fails here, not on the first request.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	c := &Client{
		cfg:        cfg,
		prices:     DefaultPrices(),
		meter:      noopMeter{},
		httpClient: http.DefaultClient,
		interval:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.stats = newStatsTracker(c.prices)
	if cfg.DailyBudget > 0 {
		c.spend = NewSpendGuard(cfg.DailyBudget)
	}

	c.dispatcher = &dispatcher{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		teamID:     cfg.TeamID,
		userID:     cfg.UserID,
		timeout:    cfg.timeout(),
		retries:    cfg.retryCount(),
		interval:   c.interval,
		httpClient: c.httpClient,
		breaker:    c.breaker,
	}

	return c, nil
}

// ChatCompletion performs a synchronous chat completion.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model, body, requestID, err := c.prepare(&req, false)
	if err != nil {
		return ChatResponse{}, err
	}

	c.meter.OnRequest(RequestEvent{
		RequestID:   requestID,
		Provider:    ResolveProvider(model),
		Model:       model,
		EstimatedIn: EstimateTokens(req.Messages),
	})

	start := time.Now()
	raw, attempts, err := c.dispatcher.send(ctx, body, requestID)
	duration := time.Since(start)

	if err != nil {
		c.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Provider:  ResolveProvider(model),
			Model:     model,
			Attempts:  attempts,
			Duration:  duration,
			Error:     err,
		})
		return ChatResponse{}, err
	}

	var resp ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		decodeErr := fmt.Errorf("marketsdk: decode response: %w", err)
		c.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Provider:  ResolveProvider(model),
			Model:     model,
			Attempts:  attempts,
			Duration:  duration,
			Error:     decodeErr,
		})
		return ChatResponse{}, decodeErr
	}
	if len(resp.Choices) == 0 {
		emptyErr := fmt.Errorf("marketsdk: empty choices in response")
		c.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Provider:  ResolveProvider(model),
			Model:     model,
			Attempts:  attempts,
			Duration:  duration,
			Error:     emptyErr,
		})
		return ChatResponse{}, emptyErr
	}

	served := resp.Model
	if served == "" {
		served = model
	}

	cost, listed := c.stats.record(served, resp.Usage, duration)
	if c.spend != nil {
		c.spend.Record(cost)
	}

	c.meter.OnResult(ResultEvent{
		RequestID:       requestID,
		Provider:        ResolveProvider(served),
		Model:           served,
		Success:         true,
		Attempts:        attempts,
		Duration:        duration,
		Usage:           resp.Usage,
		Cost:            cost,
		PricingFallback: !listed,
	})

	resp.Accounting = AccountingInfo{
		Provider:        ResolveProvider(served),
		Model:           served,
		Cost:            cost,
		LatencyMs:       duration.Milliseconds(),
		Attempts:        attempts,
		PricingFallback: !listed,
	}
	return resp, nil
}

// ChatCompletionStream performs a streaming chat completion. The caller
// must Close the returned Stream; stats are recorded on Close.
func (c *Client) ChatCompletionStream(ctx context.Context, req ChatRequest) (*Stream, error) {
	model, body, requestID, err := c.prepare(&req, true)
	if err != nil {
		return nil, err
	}

	c.meter.OnRequest(RequestEvent{
		RequestID:   requestID,
		Provider:    ResolveProvider(model),
		Model:       model,
		Stream:      true,
		EstimatedIn: EstimateTokens(req.Messages),
	})

	resp, attempts, err := c.dispatcher.openStream(ctx, body, requestID)
	if err != nil {
		c.meter.OnResult(ResultEvent{
			RequestID: requestID,
			Provider:  ResolveProvider(model),
			Model:     model,
			Stream:    true,
			Attempts:  attempts,
			Error:     err,
		})
		return nil, err
	}

	return &Stream{
		reader:         bufio.NewReader(resp.Body),
		body:           resp.Body,
		meter:          c.meter,
		stats:          c.stats,
		spend:          c.spend,
		requestID:      requestID,
		model:          model,
		attempts:       attempts,
		started:        time.Now(),
		promptEstimate: EstimateTokens(req.Messages),
	}, nil
}

// UsageStats returns a snapshot of the client's running aggregates.
func (c *Client) UsageStats() RunningStats {
	return c.stats.snapshot()
}

// ResetUsageStats zeroes all aggregates.
func (c *Client) ResetUsageStats() {
	c.stats.reset()
}

// EstimateCost prices a hypothetical request against the client's table.
func (c *Client) EstimateCost(model string, inputTokens, outputTokens int64) float64 {
	cost, _ := c.prices.Cost(model, inputTokens, outputTokens)
	return cost
}

// DailySpend returns today's accumulated spend, or 0 when no budget is
// configured.
func (c *Client) DailySpend() float64 {
	if c.spend == nil {
		return 0
	}
	return c.spend.Spent()
}

// prepare validates the request, applies the default model, and builds
// the wire body plus a fresh request ID.
func (c *Client) prepare(req *ChatRequest, stream bool) (model string, body []byte, requestID string, err error) {
	if len(req.Messages) == 0 {
		return "", nil, "", fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	}

	model = req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	if model == "" {
		return "", nil, "", fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}

	if c.spend != nil && !c.spend.Allow() {
		return "", nil, "", ErrBudgetExceeded
	}

	wire := *req
	wire.Model = model
	wire.Stream = stream

	body, err = json.Marshal(wire)
	if err != nil {
		return "", nil, "", fmt.Errorf("marketsdk: marshal request: %w", err)
	}

	return model, body, uuid.New().String(), nil
}

// noopMeter is the default meter; it does nothing.
type noopMeter struct{}

func (noopMeter) OnRequest(RequestEvent) {}
func (noopMeter) OnResult(ResultEvent)   {}
