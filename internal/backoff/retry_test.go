package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastPolicy keeps test retries in the millisecond range.
func fastPolicy() BackoffPolicy {
	return BackoffPolicy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}
}

func TestRetryWithBackoffSucceedsFirstAttempt(t *testing.T) {
	ctx := context.Background()

	result, err := RetryWithBackoff(ctx, fastPolicy(), 3, nil, func(attempt int) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryWithBackoff() error = %v", err)
	}
	if result.Value != "ok" {
		t.Errorf("Value = %q, want ok", result.Value)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
}

func TestRetryWithBackoffRetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	calls := 0

	result, err := RetryWithBackoff(ctx, fastPolicy(), 5, nil, func(attempt int) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("RetryWithBackoff() error = %v", err)
	}
	if result.Value != 42 {
		t.Errorf("Value = %d, want 42", result.Value)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	calls := 0
	sentinel := errors.New("still broken")

	result, err := RetryWithBackoff(ctx, fastPolicy(), 3, nil, func(attempt int) (struct{}, error) {
		calls++
		return struct{}{}, sentinel
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(result.LastError, sentinel) {
		t.Errorf("LastError = %v, want sentinel", result.LastError)
	}
}

func TestRetryWithBackoffStopsOnPermanentError(t *testing.T) {
	ctx := context.Background()
	calls := 0
	permanent := errors.New("quota exhausted")

	_, err := RetryWithBackoff(ctx, fastPolicy(), 5, func(err error) bool {
		return !errors.Is(err, permanent)
	}, func(attempt int) (struct{}, error) {
		calls++
		return struct{}{}, permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("error = %v, want permanent error surfaced as-is", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want exactly 1 (no retries)", calls)
	}
}

func TestRetryWithBackoffRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	slow := BackoffPolicy{InitialMs: 5000, MaxMs: 5000, Factor: 1, Jitter: 0}
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = RetryWithBackoff(ctx, slow, 5, nil, func(attempt int) (struct{}, error) {
			calls++
			return struct{}{}, errors.New("transient")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrySimple(t *testing.T) {
	ctx := context.Background()
	calls := 0

	err := RetrySimple(ctx, 3, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Errorf("RetrySimple() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
