package marketsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// dispatcher issues requests to the unified chat completions endpoint.
// It owns auth and context headers, the per-attempt timeout, and the
// retry schedule; it never interprets a 2xx body.
type dispatcher struct {
	baseURL    string
	apiKey     string
	teamID     string
	userID     string
	timeout    time.Duration
	retries    int
	interval   time.Duration
	httpClient *http.Client
	breaker    *Breaker
}

// apiErrorBody is the error envelope returned on non-2xx status.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// send performs a non-streaming call with retry and exponential backoff
// and returns the raw 2xx body. Each attempt gets its own timeout, so an
// attempt that times out is retried; cancellation of the caller's context
// always wins over the retry budget.
func (d *dispatcher) send(ctx context.Context, body []byte, requestID string) ([]byte, int, error) {
	if d.breaker != nil && !d.breaker.Allow() {
		return nil, 0, &DispatchError{Err: ErrBackendUnavailable, Retryable: true}
	}

	var (
		raw        []byte
		lastStatus int
		attempts   int
	)

	op := func() error {
		attempts++
		out, status, err := d.attempt(ctx, body, requestID)
		if status != 0 {
			lastStatus = status
		}
		if err != nil {
			if IsFatal(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		raw = out
		return nil
	}

	if err := backoff.Retry(op, d.newBackOff(ctx)); err != nil {
		if d.breaker != nil && !IsFatal(err) {
			d.breaker.RecordFailure()
		}
		return nil, attempts, &DispatchError{
			Err:       err,
			Status:    lastStatus,
			Attempts:  attempts,
			Retryable: !IsFatal(err),
		}
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess()
	}
	return raw, attempts, nil
}

// openStream performs a streaming call and hands back the live response.
// Connection and status failures are retried like send; once headers
// arrive the stream is bounded only by the caller's context, so the
// per-attempt timeout does not apply.
func (d *dispatcher) openStream(ctx context.Context, body []byte, requestID string) (*http.Response, int, error) {
	if d.breaker != nil && !d.breaker.Allow() {
		return nil, 0, &DispatchError{Err: ErrBackendUnavailable, Retryable: true}
	}

	var (
		resp       *http.Response
		lastStatus int
		attempts   int
	)

	op := func() error {
		attempts++
		httpResp, err := d.do(ctx, body, requestID, true)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}

		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			lastStatus = httpResp.StatusCode
			errBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
			httpResp.Body.Close()

			statusErr := mapStatus(httpResp.StatusCode, errBody)
			if IsFatal(statusErr) {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		resp = httpResp
		return nil
	}

	if err := backoff.Retry(op, d.newBackOff(ctx)); err != nil {
		if d.breaker != nil && !IsFatal(err) {
			d.breaker.RecordFailure()
		}
		return nil, attempts, &DispatchError{
			Err:       err,
			Status:    lastStatus,
			Attempts:  attempts,
			Retryable: !IsFatal(err),
		}
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess()
	}
	return resp, attempts, nil
}

// attempt runs a single non-streaming HTTP round trip under the
// per-attempt timeout, reading the body before the timeout is released.
func (d *dispatcher) attempt(ctx context.Context, body []byte, requestID string) ([]byte, int, error) {
	actx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	resp, err := d.do(actx, body, requestID, false)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrBackendUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, mapStatus(resp.StatusCode, raw)
	}

	return raw, resp.StatusCode, nil
}

func (d *dispatcher) do(ctx context.Context, body []byte, requestID string, stream bool) (*http.Response, error) {
	url := d.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("x-request-id", requestID)
	if d.teamID != "" {
		req.Header.Set("x-team-id", d.teamID)
	}
	if d.userID != "" {
		req.Header.Set("x-user-id", d.userID)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	return d.httpClient.Do(req)
}

// newBackOff builds the retry schedule: interval * 2^attempt, no jitter,
// capped at d.retries retries beyond the first attempt, aborted as soon
// as ctx is done.
func (d *dispatcher) newBackOff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.interval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.retries)), ctx)
}

// mapStatus classifies a non-2xx status into the error taxonomy.
// 429 counts as transient despite being 4xx; all other 4xx fail fast.
func mapStatus(status int, body []byte) error {
	var envelope apiErrorBody
	_ = json.Unmarshal(body, &envelope)
	msg := envelope.Error.Message

	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthFailed
	case status >= 400 && status < 500:
		if msg == "" {
			msg = http.StatusText(status)
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	default:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrBackendUnavailable, msg)
		}
		return ErrBackendUnavailable
	}
}
