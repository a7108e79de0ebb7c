package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is one of the three circuit breaker states.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen     = errors.New("resilience: circuit breaker is open")
	ErrTooManyRequests = errors.New("resilience: too many requests in half-open state")
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // failures within Window before tripping
	Window           time.Duration // rolling window the threshold applies over
	Cooldown         time.Duration // time spent in open before a half-open probe
	HalfOpenMax      int           // concurrent probes allowed in half-open; must be exactly 1
	OnStateChange    func(name string, from, to BreakerState)
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           1 * time.Minute,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// CircuitBreaker is a per-named-call-site breaker. Retry composes around
// it: the breaker sees each retried attempt individually.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	mu     sync.Mutex
	state  BreakerState
	fails  []time.Time // failure timestamps within the rolling window
	halfOpenInFlight int
	openedAt time.Time
}

// NewCircuitBreaker creates a breaker for the named call site.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenMax != 1 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{name: name, cfg: cfg, state: StateClosed}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn with circuit-breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err == nil)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cfg.Cooldown {
			cb.transition(StateHalfOpen)
			cb.halfOpenInFlight = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMax {
			return ErrTooManyRequests
		}
		cb.halfOpenInFlight++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) after(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenInFlight--
		if success {
			cb.transition(StateClosed)
			cb.fails = nil
		} else {
			cb.transition(StateOpen)
			cb.openedAt = time.Now()
		}
	case StateClosed:
		if success {
			cb.fails = nil
			return
		}
		now := time.Now()
		cb.fails = append(cb.fails, now)
		cb.fails = pruneWindow(cb.fails, now, cb.cfg.Window)
		if len(cb.fails) >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
			cb.openedAt = now
			cb.fails = nil
		}
	}
}

func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(cb.name, from, to)
	}
}
