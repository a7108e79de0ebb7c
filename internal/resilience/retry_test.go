package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, Strategy: StrategyFixed, BaseDelay: time.Millisecond, Retryable: ClassifyTransport}
	err := Retry(context.Background(), cfg, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return ErrNetwork
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 5, Strategy: StrategyFixed, BaseDelay: time.Millisecond, Retryable: ClassifyTransport}
	err := Retry(context.Background(), cfg, func(context.Context) error {
		attempts++
		return ErrValidation
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error surfaced, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retries for non-retryable error, got %d attempts", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, Strategy: StrategyFixed, BaseDelay: time.Millisecond}
	err := Retry(context.Background(), cfg, func(context.Context) error {
		attempts++
		return ErrNetwork
	})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected final error surfaced, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly MaxAttempts attempts, got %d", attempts)
	}
}

func TestBackoffDelayExponential(t *testing.T) {
	base := time.Second
	if d := BackoffDelay(base, 2, 0, 0); d != time.Second {
		t.Fatalf("attempt 0: expected 1s, got %v", d)
	}
	if d := BackoffDelay(base, 2, 1, 0); d != 2*time.Second {
		t.Fatalf("attempt 1: expected 2s, got %v", d)
	}
	if d := BackoffDelay(base, 2, 2, 0); d != 4*time.Second {
		t.Fatalf("attempt 2: expected 4s, got %v", d)
	}
	if d := BackoffDelay(base, 2, 10, 5*time.Second); d != 5*time.Second {
		t.Fatalf("expected cap at maxDelay, got %v", d)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxAttempts: 3, Strategy: StrategyFixed, BaseDelay: time.Second}
	err := Retry(ctx, cfg, func(context.Context) error { return ErrNetwork })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
