package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Algorithm selects the limiting strategy per endpoint without touching
// call sites. AlgorithmFixedWindow and AlgorithmSlidingWindow both go
// through Storage and are counted the same way, as a per-key counter
// that resets when its window expires; AlgorithmTokenBucket keeps a
// process-local bucket per key and uses Storage only for blocks.
type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmFixedWindow   Algorithm = "fixed_window"
)

// Key identifies a limited scope: (scope, identity, endpoint).
type Key struct {
	Scope    string
	Identity string
	Endpoint string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Scope, k.Identity, k.Endpoint)
}

// Decision is the result of a limiter check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Limit      int
	ResetAt    time.Time
}

// Storage is the pluggable counter backend. Implementations must be
// safe for concurrent use. MemoryStorage and a redis-backed
// implementation (limiter_redis.go) are provided.
type Storage interface {
	// Increment bumps the counter for key's current window and returns
	// the new count plus the window's reset time.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
	// SetBlock short-circuits key for the given duration.
	SetBlock(ctx context.Context, key string, until time.Time) error
	// Blocked reports whether key is currently short-circuited.
	Blocked(ctx context.Context, key string) (bool, time.Time, error)
}

// LimiterConfig configures a RateLimiter.
type LimiterConfig struct {
	Algorithm       Algorithm
	MaxRequests     int
	Window          time.Duration
	BlockDuration   time.Duration // lockout applied after a denial, 0 disables
	FailOpen        bool          // on storage error, allow the request rather than deny it
}

func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{Algorithm: AlgorithmFixedWindow, MaxRequests: 100, Window: time.Minute, FailOpen: true}
}

// RateLimiter enforces MaxRequests per Window per Key, storage-backed so
// it can be shared across process instances. The token-bucket algorithm
// is the exception: golang.org/x/time/rate's Limiter is process-local by
// construction, so AlgorithmTokenBucket keeps one per key in-process
// rather than going through Storage; sliding/fixed window stay
// storage-backed for cross-instance sharing.
type RateLimiter struct {
	cfg     LimiterConfig
	storage Storage
	buckets sync.Map // string -> *rate.Limiter, AlgorithmTokenBucket only
}

// NewRateLimiter creates a limiter over the given storage backend.
func NewRateLimiter(cfg LimiterConfig, storage Storage) *RateLimiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &RateLimiter{cfg: cfg, storage: storage}
}

// Allow checks and (on success) consumes one unit of quota for key.
// On storage error the limiter fails open or closed per cfg.FailOpen —
// it must never itself become the outage.
func (l *RateLimiter) Allow(ctx context.Context, key Key) Decision {
	k := key.String()

	if l.cfg.Algorithm == AlgorithmTokenBucket {
		return l.allowTokenBucket(ctx, k)
	}

	if l.cfg.BlockDuration > 0 {
		blocked, until, err := l.storage.Blocked(ctx, k)
		if err != nil {
			if !l.cfg.FailOpen {
				return Decision{Allowed: false, Limit: l.cfg.MaxRequests}
			}
		} else if blocked {
			return Decision{Allowed: false, Limit: l.cfg.MaxRequests, RetryAfter: time.Until(until)}
		}
	}

	count, resetAt, err := l.storage.Increment(ctx, k, l.cfg.Window)
	if err != nil {
		return Decision{Allowed: l.cfg.FailOpen, Limit: l.cfg.MaxRequests}
	}

	if int(count) > l.cfg.MaxRequests {
		retryAfter := time.Until(resetAt)
		if l.cfg.BlockDuration > 0 {
			_ = l.storage.SetBlock(ctx, k, time.Now().Add(l.cfg.BlockDuration))
			retryAfter = l.cfg.BlockDuration
		}
		return Decision{Allowed: false, Remaining: 0, Limit: l.cfg.MaxRequests, RetryAfter: retryAfter, ResetAt: resetAt}
	}

	return Decision{
		Allowed:   true,
		Remaining: l.cfg.MaxRequests - int(count),
		Limit:     l.cfg.MaxRequests,
		ResetAt:   resetAt,
	}
}

// allowTokenBucket refills at MaxRequests/Window and allows bursts up to
// MaxRequests, still honoring BlockDuration short-circuiting through
// Storage so a key that has been explicitly blocked stays denied
// regardless of how many tokens its bucket has accumulated.
func (l *RateLimiter) allowTokenBucket(ctx context.Context, k string) Decision {
	if l.cfg.BlockDuration > 0 {
		blocked, until, err := l.storage.Blocked(ctx, k)
		if err == nil && blocked {
			return Decision{Allowed: false, Limit: l.cfg.MaxRequests, RetryAfter: time.Until(until)}
		}
	}

	lim := l.bucketFor(k)
	reservation := lim.ReserveN(time.Now(), 1)
	if !reservation.OK() {
		return Decision{Allowed: false, Limit: l.cfg.MaxRequests}
	}

	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		if l.cfg.BlockDuration > 0 {
			_ = l.storage.SetBlock(ctx, k, time.Now().Add(l.cfg.BlockDuration))
			delay = l.cfg.BlockDuration
		}
		return Decision{Allowed: false, Remaining: 0, Limit: l.cfg.MaxRequests, RetryAfter: delay}
	}

	return Decision{
		Allowed:   true,
		Remaining: int(lim.Tokens()),
		Limit:     l.cfg.MaxRequests,
	}
}

func (l *RateLimiter) bucketFor(k string) *rate.Limiter {
	if v, ok := l.buckets.Load(k); ok {
		return v.(*rate.Limiter)
	}
	refill := rate.Every(l.cfg.Window / time.Duration(l.cfg.MaxRequests))
	lim := rate.NewLimiter(refill, l.cfg.MaxRequests)
	actual, _ := l.buckets.LoadOrStore(k, lim)
	return actual.(*rate.Limiter)
}

// MemoryStorage is an in-process Storage implementation for a single
// instance or for tests.
type MemoryStorage struct {
	mu      sync.Mutex
	windows map[string]*windowState
	blocks  map[string]time.Time
}

type windowState struct {
	count   int64
	resetAt time.Time
}

// NewMemoryStorage creates an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{windows: make(map[string]*windowState), blocks: make(map[string]time.Time)}
}

func (m *MemoryStorage) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	ws, ok := m.windows[key]
	if !ok || now.After(ws.resetAt) {
		ws = &windowState{resetAt: now.Add(window)}
		m.windows[key] = ws
	}
	ws.count++
	return ws.count, ws.resetAt, nil
}

func (m *MemoryStorage) SetBlock(_ context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[key] = until
	return nil
}

func (m *MemoryStorage) Blocked(_ context.Context, key string) (bool, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.blocks[key]
	if !ok {
		return false, time.Time{}, nil
	}
	if time.Now().After(until) {
		delete(m.blocks, key)
		return false, time.Time{}, nil
	}
	return true, until, nil
}
