package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrRateLimit reports a 429 from the provider.
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrInvalidResponse reports output that is not the JSON the request's
// schema asked for. Content holds what the model actually sent.
type ErrInvalidResponse struct {
	Content json.RawMessage
	Err     error
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("invalid LLM response: %v", e.Err)
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }

// ErrProviderUnavailable reports a failed request. Status is the HTTP status
// the provider answered with, or zero when no response arrived.
type ErrProviderUnavailable struct {
	Status int
	Err    error
}

func (e *ErrProviderUnavailable) Error() string {
	switch {
	case e.Err == nil:
		return "LLM provider unavailable"
	case e.Status != 0:
		return fmt.Sprintf("LLM provider unavailable (status %d): %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("LLM provider unavailable: %v", e.Err)
	}
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrMaxTokensExceeded reports output cut off at the MaxTokens limit.
type ErrMaxTokensExceeded struct {
	Content json.RawMessage
}

func (e *ErrMaxTokensExceeded) Error() string {
	return "LLM response truncated: max tokens exceeded"
}

// ErrTimeout reports a request that ran out of time. It unwraps to the
// underlying error, usually context.DeadlineExceeded.
type ErrTimeout struct {
	Elapsed time.Duration
	Err     error
}

func (e *ErrTimeout) Error() string {
	if e.Elapsed > 0 {
		return fmt.Sprintf("LLM request timed out after %s: %v", e.Elapsed.Round(time.Millisecond), e.Err)
	}
	return fmt.Sprintf("LLM request timed out: %v", e.Err)
}

func (e *ErrTimeout) Unwrap() error { return e.Err }

// providerError maps an SDK failure onto the typed errors above. status is
// zero when the SDK never got an HTTP response; header may be nil.
func providerError(status int, header http.Header, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ErrTimeout{Err: err}
	case errors.Is(err, context.Canceled):
		return err
	case status == http.StatusTooManyRequests:
		return &ErrRateLimit{RetryAfter: retryAfter(header), Err: err}
	}
	return &ErrProviderUnavailable{Status: status, Err: err}
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	secs, err := strconv.Atoi(header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// retryable reports whether a fresh attempt could change the outcome.
// Malformed or truncated output, timeouts and 4xx answers are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var (
		timeout   *ErrTimeout
		invalid   *ErrInvalidResponse
		truncated *ErrMaxTokensExceeded
		limited   *ErrRateLimit
		unavail   *ErrProviderUnavailable
	)
	switch {
	case errors.As(err, &timeout), errors.As(err, &invalid), errors.As(err, &truncated):
		return false
	case errors.As(err, &limited):
		return true
	case errors.As(err, &unavail):
		return unavail.Status == 0 || unavail.Status == http.StatusRequestTimeout || unavail.Status >= 500
	}
	return true
}
