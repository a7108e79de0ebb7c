package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct{ id int64 }

type fakeFactory struct {
	counter   int64
	destroyed int64
	invalid   map[int64]bool
	mu        sync.Mutex
}

func (f *fakeFactory) Create(context.Context) (any, error) {
	id := atomic.AddInt64(&f.counter, 1)
	return &fakeConn{id: id}, nil
}

func (f *fakeFactory) Validate(conn any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalid == nil {
		return true
	}
	c := conn.(*fakeConn)
	return !f.invalid[c.id]
}

func (f *fakeFactory) Destroy(any) {
	atomic.AddInt64(&f.destroyed, 1)
}

func TestPoolAcquireReleaseWithinBounds(t *testing.T) {
	factory := &fakeFactory{}
	pool, err := NewConnPool(context.Background(), factory, PoolConfig{Min: 1, Max: 2, AcquireTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewConnPool: %v", err)
	}
	defer pool.Close()

	c1, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	c2, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	metrics := pool.Metrics()
	if metrics.Active != 2 {
		t.Fatalf("expected 2 active, got %d", metrics.Active)
	}

	pool.Release(c1)
	pool.Release(c2)

	metrics = pool.Metrics()
	if metrics.Active != 0 {
		t.Fatalf("expected 0 active after release, got %d", metrics.Active)
	}
}

func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	factory := &fakeFactory{}
	pool, err := NewConnPool(context.Background(), factory, PoolConfig{Min: 0, Max: 1, AcquireTimeout: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewConnPool: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_ = conn

	_, err = pool.Acquire(context.Background())
	if err != ErrAcquireTimeout {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
}

func TestPoolRejectsAfterClose(t *testing.T) {
	factory := &fakeFactory{}
	pool, err := NewConnPool(context.Background(), factory, PoolConfig{Min: 1, Max: 1})
	if err != nil {
		t.Fatalf("NewConnPool: %v", err)
	}
	pool.Close()

	_, err = pool.Acquire(context.Background())
	if err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}
