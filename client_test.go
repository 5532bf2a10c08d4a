package marketsdk_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aimarket/marketsdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionJSON = `{
	"id": "resp-1",
	"model": "gpt-4o",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func newTestClient(t *testing.T, cfg marketsdk.Config, opts ...marketsdk.Option) *marketsdk.Client {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	opts = append(opts, marketsdk.WithBackoffInterval(time.Millisecond))
	c, err := marketsdk.New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func userRequest(model string) marketsdk.ChatRequest {
	return marketsdk.ChatRequest{
		Model:    model,
		Messages: []marketsdk.Message{{Role: marketsdk.RoleUser, Content: "hello"}},
	}
}

func TestChatCompletion_HappyPath(t *testing.T) {
	var gotAuth, gotTeam, gotUser, gotRequestID string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTeam = r.Header.Get("x-team-id")
		gotUser = r.Header.Get("x-user-id")
		gotRequestID = r.Header.Get("x-request-id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL, TeamID: "team-9", UserID: "user-7"})

	resp, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	require.NoError(t, err)

	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)

	assert.Equal(t, "openai", resp.Accounting.Provider)
	assert.Equal(t, 1, resp.Accounting.Attempts)
	assert.False(t, resp.Accounting.PricingFallback)
	assert.InDelta(t, 10*2.50/1e6+5*10.00/1e6, resp.Accounting.Cost, 1e-12)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "team-9", gotTeam)
	assert.Equal(t, "user-7", gotUser)
	assert.NotEmpty(t, gotRequestID)
}

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := marketsdk.New(marketsdk.Config{})
	assert.ErrorIs(t, err, marketsdk.ErrMissingAPIKey)
}

// Three 503s followed by a 200 must succeed within the default retry
// budget of 3.
func TestChatCompletion_RetriesTransientErrors(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, completionJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL})

	resp, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, 4, resp.Accounting.Attempts)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)
}

// A 429 counts as transient despite being 4xx: it is retried, not
// failed fast.
func TestChatCompletion_RateLimitRetried(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, completionJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL})

	resp, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 2, resp.Accounting.Attempts)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)
}

// A 401 is non-retryable: exactly one attempt, no retry budget consumed.
func TestChatCompletion_AuthFailureNotRetried(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL})

	_, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	require.Error(t, err)
	assert.ErrorIs(t, err, marketsdk.ErrAuthFailed)
	assert.Equal(t, int32(1), hits.Load())

	var de *marketsdk.DispatchError
	require.ErrorAs(t, err, &de)
	assert.False(t, de.Retryable)
	assert.Equal(t, http.StatusUnauthorized, de.Status)
	assert.Equal(t, 1, de.Attempts)
}

func TestChatCompletion_BadRequestFailsFast(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"message": "messages must not be empty"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL})

	_, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	require.Error(t, err)
	assert.ErrorIs(t, err, marketsdk.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "messages must not be empty")
	assert.Equal(t, int32(1), hits.Load())
}

// A timed-out attempt is itself retryable.
func TestChatCompletion_TimeoutRetried(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		_, _ = io.WriteString(w, completionJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL, TimeoutMs: 100})

	resp, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Accounting.Attempts)
}

// Caller cancellation wins over the retry budget.
func TestChatCompletion_CancellationStopsRetries(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := marketsdk.Config{BaseURL: srv.URL, APIKey: "test-key"}
	c, err := marketsdk.New(cfg, marketsdk.WithBackoffInterval(200*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.ChatCompletion(ctx, userRequest("gpt-4o"))
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestChatCompletion_ValidatesRequest(t *testing.T) {
	c := newTestClient(t, marketsdk.Config{BaseURL: "http://127.0.0.1:0"})

	_, err := c.ChatCompletion(context.Background(), marketsdk.ChatRequest{Model: "gpt-4o"})
	assert.ErrorIs(t, err, marketsdk.ErrInvalidRequest)

	_, err = c.ChatCompletion(context.Background(), marketsdk.ChatRequest{
		Messages: []marketsdk.Message{{Role: marketsdk.RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, marketsdk.ErrInvalidRequest)
}

func TestChatCompletion_DefaultModelApplied(t *testing.T) {
	var gotModel string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req marketsdk.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		_, _ = io.WriteString(w, completionJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL, DefaultModel: "gpt-4o-mini"})

	_, err := c.ChatCompletion(context.Background(), marketsdk.ChatRequest{
		Messages: []marketsdk.Message{{Role: marketsdk.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", gotModel)
}

func TestUsageStats_AccumulateAndReset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completionJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL})

	assert.Equal(t, int64(0), c.UsageStats().RequestCount)

	for i := 0; i < 3; i++ {
		_, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
		require.NoError(t, err)
	}

	s := c.UsageStats()
	assert.Equal(t, int64(3), s.RequestCount)
	assert.Equal(t, int64(30), s.TotalTokensIn)
	assert.Equal(t, int64(15), s.TotalTokensOut)
	assert.Equal(t, int64(3), s.ByProvider["openai"])
	assert.Equal(t, int64(3), s.ByModel["gpt-4o"])
	assert.Greater(t, s.TotalCost, 0.0)

	c.ResetUsageStats()
	s = c.UsageStats()
	assert.Equal(t, int64(0), s.RequestCount)
	assert.Equal(t, 0.0, s.TotalCost)
	assert.Empty(t, s.ByModel)
}

func TestChatCompletion_BudgetExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completionJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL, DailyBudget: 0.00000001})

	_, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	require.NoError(t, err)
	assert.Greater(t, c.DailySpend(), 0.0)

	_, err = c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	assert.ErrorIs(t, err, marketsdk.ErrBudgetExceeded)
}

// captureMeter records every event for assertions.
type captureMeter struct {
	requests []marketsdk.RequestEvent
	results  []marketsdk.ResultEvent
}

func (m *captureMeter) OnRequest(e marketsdk.RequestEvent) { m.requests = append(m.requests, e) }
func (m *captureMeter) OnResult(e marketsdk.ResultEvent)   { m.results = append(m.results, e) }

// Every dispatched request produces exactly one result event, including
// the post-dispatch failure classes.
func TestChatCompletion_MeterSeesDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json at all")
	}))
	defer srv.Close()

	m := &captureMeter{}
	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL}, marketsdk.WithMeter(m))

	_, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")

	require.Len(t, m.requests, 1)
	require.Len(t, m.results, 1)
	assert.False(t, m.results[0].Success)
	assert.Error(t, m.results[0].Error)
	assert.Equal(t, m.requests[0].RequestID, m.results[0].RequestID)
}

func TestChatCompletion_MeterSeesEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id": "resp-1", "model": "gpt-4o", "choices": [], "usage": {}}`)
	}))
	defer srv.Close()

	m := &captureMeter{}
	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL}, marketsdk.WithMeter(m))

	_, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")

	require.Len(t, m.results, 1)
	assert.False(t, m.results[0].Success)
	assert.Error(t, m.results[0].Error)
}

func TestChatCompletion_BreakerFailsFast(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := marketsdk.NewBreaker()
	c := newTestClient(t, marketsdk.Config{BaseURL: srv.URL, Retries: 1}, marketsdk.WithBreaker(b))

	for i := 0; i < 3; i++ {
		_, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
		require.Error(t, err)
	}
	assert.Equal(t, marketsdk.BreakerOpen, b.State())

	before := hits.Load()
	_, err := c.ChatCompletion(context.Background(), userRequest("gpt-4o"))
	require.Error(t, err)
	assert.ErrorIs(t, err, marketsdk.ErrBackendUnavailable)
	assert.Equal(t, before, hits.Load())
}
