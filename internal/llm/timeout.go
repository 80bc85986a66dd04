package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutProvider bounds each Generate call, retries and backoff included.
type TimeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

// WithTimeout wraps p so every call gives up after d. A d of zero or less
// returns p unchanged.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &TimeoutProvider{inner: p, timeout: d}
}

// Generate returns *ErrTimeout when the deadline ends the call, whether the
// deadline was this provider's or the caller's.
func (t *TimeoutProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	resp, err := t.inner.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}

	var timeout *ErrTimeout
	if errors.As(err, &timeout) {
		if timeout.Elapsed == 0 {
			timeout.Elapsed = time.Since(start)
		}
		return nil, timeout
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &ErrTimeout{Elapsed: time.Since(start), Err: err}
	}
	return nil, err
}

func (t *TimeoutProvider) ModelID() string {
	return t.inner.ModelID()
}
