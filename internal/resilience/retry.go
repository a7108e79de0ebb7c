// Package resilience implements the fault-tolerance primitives shared
// across the system: retry, circuit breaker, rate limiting and a
// connection pool. It is grounded on the teacher's
// infrastructure/resilience, infrastructure/ratelimit and
// infrastructure/cache packages, adapted from ad-hoc HTTP-client
// helpers into generic primitives used by the monitoring engine, the
// DLQ and the failover controller; probes use its error classes.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Strategy selects how the delay between attempts grows.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
	StrategyImmediate   Strategy = "immediate"
)

// RetryableFunc classifies an error as retryable or not. A nil
// RetryableFunc retries every non-nil error.
type RetryableFunc func(err error) bool

// RetryConfig configures Retry.
type RetryConfig struct {
	MaxAttempts  int
	Strategy     Strategy
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Factor       float64 // multiplier for exponential/linear
	Jitter       bool    // uniform jitter in [0.5*d, d]
	PerAttempt   time.Duration // timeout wrapping a single attempt; 0 disables
	Retryable    RetryableFunc
}

// Preset configs for canonical call sites.
func DBConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Strategy: StrategyExponential, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second, Factor: 2, Jitter: true}
}

func HTTPConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Strategy: StrategyExponential, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, Factor: 2, Jitter: true, Retryable: ClassifyTransport}
}

func QueueConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, Strategy: StrategyExponential, BaseDelay: 1 * time.Second, MaxDelay: 30 * time.Second, Factor: 2, Jitter: false}
}

func CacheConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 2, Strategy: StrategyFixed, BaseDelay: 20 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
}

// LongCallConfig is for long blockchain-like / batch calls that should
// back off slowly and retry few times.
func LongCallConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Strategy: StrategyLinear, BaseDelay: 2 * time.Second, MaxDelay: 20 * time.Second, Factor: 1, Jitter: true}
}

func FastConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 2, Strategy: StrategyImmediate}
}

// classification errors used by the default Retryable predicate.
var (
	ErrTimeout        = errors.New("resilience: timeout")
	ErrNetwork        = errors.New("resilience: network error")
	ErrServerError    = errors.New("resilience: server error (5xx)")
	ErrRateLimited    = errors.New("resilience: rate limited (429)")
	ErrValidation     = errors.New("resilience: validation error")
	ErrUnauthorized   = errors.New("resilience: unauthorized")
)

// ClassifyTransport is the default retry predicate: network, timeout,
// 5xx and 429 are retryable; validation and auth errors are not.
func ClassifyTransport(err error) bool {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrNetwork), errors.Is(err, ErrServerError), errors.Is(err, ErrRateLimited):
		return true
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnauthorized):
		return false
	default:
		return true
	}
}

// Retry executes fn up to cfg.MaxAttempts times, sleeping between
// attempts according to cfg.Strategy, stopping early when the error is
// not retryable or the context is done.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.PerAttempt > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.PerAttempt)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts || !retryable(err) {
			return lastErr
		}

		wait := delayFor(delay, cfg)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = nextDelay(delay, cfg)
	}
	return lastErr
}

func delayFor(d time.Duration, cfg RetryConfig) time.Duration {
	if cfg.Strategy == StrategyImmediate {
		return 0
	}
	if !cfg.Jitter || d <= 0 {
		return d
	}
	// uniform jitter in [0.5*d, d]
	half := float64(d) / 2
	return time.Duration(half + rand.Float64()*half)
}

func nextDelay(current time.Duration, cfg RetryConfig) time.Duration {
	var next time.Duration
	switch cfg.Strategy {
	case StrategyFixed, StrategyImmediate:
		next = cfg.BaseDelay
	case StrategyLinear:
		factor := cfg.Factor
		if factor <= 0 {
			factor = 1
		}
		next = current + time.Duration(float64(cfg.BaseDelay)*factor)
	default: // exponential
		factor := cfg.Factor
		if factor <= 0 {
			factor = 2
		}
		next = time.Duration(float64(current) * factor)
	}
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

// BackoffDelay computes min(base*factor^attempt, maxDelay) without
// jitter, used by the DLQ where the exact schedule is part of the
// contract under test.
func BackoffDelay(base time.Duration, factor float64, attempt int, maxDelay time.Duration) time.Duration {
	if factor <= 0 {
		factor = 2
	}
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= factor
	}
	delay := time.Duration(d)
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}
