package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	l := NewRateLimiter(LimiterConfig{MaxRequests: 3, Window: time.Minute}, NewMemoryStorage())
	key := Key{Scope: "probe", Identity: "tenant-a", Endpoint: "web"}

	for i := 0; i < 3; i++ {
		d := l.Allow(context.Background(), key)
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed, got denied", i)
		}
	}
	d := l.Allow(context.Background(), key)
	if d.Allowed {
		t.Fatal("expected 4th request to be denied")
	}
	if d.RetryAfter <= 0 {
		t.Fatal("expected a positive retry-after on denial")
	}
}

func TestRateLimiterBlockDurationShortCircuits(t *testing.T) {
	l := NewRateLimiter(LimiterConfig{MaxRequests: 1, Window: time.Minute, BlockDuration: 200 * time.Millisecond}, NewMemoryStorage())
	key := Key{Scope: "probe", Identity: "tenant-a", Endpoint: "web"}

	if !l.Allow(context.Background(), key).Allowed {
		t.Fatal("expected first request allowed")
	}
	d := l.Allow(context.Background(), key)
	if d.Allowed {
		t.Fatal("expected second request denied and blocked")
	}

	// Within block window, even a fresh window's quota would allow it,
	// but the explicit block must still short-circuit.
	d2 := l.Allow(context.Background(), key)
	if d2.Allowed {
		t.Fatal("expected request to remain blocked during BlockDuration")
	}
}

func TestRateLimiterFailsOpenOnStorageError(t *testing.T) {
	l := NewRateLimiter(LimiterConfig{MaxRequests: 1, Window: time.Minute, FailOpen: true}, failingStorage{})
	d := l.Allow(context.Background(), Key{Scope: "s", Identity: "i", Endpoint: "e"})
	if !d.Allowed {
		t.Fatal("expected fail-open to allow the request")
	}
}

func TestRateLimiterFailsClosedWhenConfigured(t *testing.T) {
	l := NewRateLimiter(LimiterConfig{MaxRequests: 1, Window: time.Minute, FailOpen: false}, failingStorage{})
	d := l.Allow(context.Background(), Key{Scope: "s", Identity: "i", Endpoint: "e"})
	if d.Allowed {
		t.Fatal("expected fail-closed to deny the request")
	}
}

func TestRateLimiterTokenBucketAllowsBurstThenThrottles(t *testing.T) {
	l := NewRateLimiter(LimiterConfig{Algorithm: AlgorithmTokenBucket, MaxRequests: 2, Window: time.Minute}, NewMemoryStorage())
	key := Key{Scope: "probe", Identity: "tenant-a", Endpoint: "web"}

	for i := 0; i < 2; i++ {
		if !l.Allow(context.Background(), key).Allowed {
			t.Fatalf("request %d: expected burst capacity to allow it", i)
		}
	}
	d := l.Allow(context.Background(), key)
	if d.Allowed {
		t.Fatal("expected bucket to be empty after consuming the burst")
	}
	if d.RetryAfter <= 0 {
		t.Fatal("expected a positive retry-after once the bucket is empty")
	}
}

type failingStorage struct{}

func (failingStorage) Increment(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("storage unavailable")
}
func (failingStorage) SetBlock(context.Context, string, time.Time) error { return errors.New("storage unavailable") }
func (failingStorage) Blocked(context.Context, string) (bool, time.Time, error) {
	return false, time.Time{}, errors.New("storage unavailable")
}
