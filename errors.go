package marketsdk

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrMissingAPIKey      = errors.New("marketsdk: api key is required")
	ErrInvalidRequest     = errors.New("marketsdk: invalid request")
	ErrAuthFailed         = errors.New("marketsdk: authentication failed")
	ErrRateLimited        = errors.New("marketsdk: rate limited by backend")
	ErrBackendUnavailable = errors.New("marketsdk: backend unavailable")
	ErrBudgetExceeded     = errors.New("marketsdk: daily budget exceeded")
	ErrNoCandidates       = errors.New("marketsdk: no candidate models")
)

// DispatchError wraps a failed dispatch with HTTP and retry context.
// Status is zero when the failure happened below the HTTP layer.
type DispatchError struct {
	Err       error
	Status    int
	Attempts  int
	Retryable bool
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("marketsdk: dispatch failed: status=%d attempts=%d retryable=%t: %v",
		e.Status, e.Attempts, e.Retryable, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest)
}

// IsRetryable returns true if the error is transient and safe to retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrBackendUnavailable)
}
