package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeout_SlowResponse(t *testing.T) {
	slow := verdictOK
	slow.Delay = time.Minute
	mock := NewMockProvider(slow)
	p := WithTimeout(mock, 20*time.Millisecond)

	start := time.Now()
	_, err := p.Generate(context.Background(), Request{})
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not cut the call short")
	}
	var timeout *ErrTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected ErrTimeout, got: %T (%v)", err, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("ErrTimeout should unwrap to context.DeadlineExceeded")
	}
	if timeout.Elapsed <= 0 {
		t.Errorf("Elapsed = %s, want > 0", timeout.Elapsed)
	}
}

func TestTimeout_FastResponse(t *testing.T) {
	mock := NewMockProvider(verdictOK)
	p := WithTimeout(mock, time.Second)

	if _, err := p.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout_OtherErrorsPassThrough(t *testing.T) {
	mock := NewMockProvider(MockResponse{Err: &ErrRateLimit{Err: errors.New("429")}})
	p := WithTimeout(mock, time.Second)

	_, err := p.Generate(context.Background(), Request{})
	var rl *ErrRateLimit
	if !errors.As(err, &rl) {
		t.Fatalf("expected ErrRateLimit, got: %T (%v)", err, err)
	}
}

func TestTimeout_CoversRetryBackoff(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Err: &ErrProviderUnavailable{Err: errors.New("connection reset")}},
		verdictOK,
	)
	cfg := retryConfig()
	cfg.InitialWait, cfg.MaxWait = time.Minute, time.Minute
	p := WithTimeout(WithRetry(mock, cfg), 30*time.Millisecond)

	_, err := p.Generate(context.Background(), Request{})
	var timeout *ErrTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected ErrTimeout, got: %T (%v)", err, err)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", mock.CallCount())
	}
}

func TestTimeout_ZeroDisables(t *testing.T) {
	mock := NewMockProvider()
	if p := WithTimeout(mock, 0); p != Provider(mock) {
		t.Fatalf("WithTimeout(p, 0) = %T, want the provider unchanged", p)
	}
}

func TestNewProvider_AppliesTimeout(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Provider: "mock", Timeout: time.Second}, nil, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	tp, ok := p.(*TimeoutProvider)
	if !ok {
		t.Fatalf("NewProvider returned %T, want *TimeoutProvider", p)
	}
	if tp.timeout != time.Second {
		t.Errorf("timeout = %s, want 1s", tp.timeout)
	}
	if _, ok := tp.inner.(*RetryProvider); !ok {
		t.Errorf("timeout wraps %T, want *RetryProvider", tp.inner)
	}

	p, err = NewProvider(context.Background(), Config{Provider: "mock"}, nil, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, ok := p.(*TimeoutProvider); ok {
		t.Error("zero Timeout should not add a TimeoutProvider")
	}
}
