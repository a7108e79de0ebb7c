package monitoring

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherCoalescesBurstsPerService(t *testing.T) {
	var running int32
	var maxConcurrentForService int32
	started := make(chan struct{})
	release := make(chan struct{})

	d := newDispatcher(4, func(ctx context.Context, serviceID string) {
		n := atomic.AddInt32(&running, 1)
		if n > atomic.LoadInt32(&maxConcurrentForService) {
			atomic.StoreInt32(&maxConcurrentForService, n)
		}
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		atomic.AddInt32(&running, -1)
	})

	d.Submit(context.Background(), "svc-1")
	<-started // first run is now blocked in release

	// Three more submits while one is in flight must coalesce into a
	// single pending rerun, not three separate executions.
	d.Submit(context.Background(), "svc-1")
	d.Submit(context.Background(), "svc-1")
	d.Submit(context.Background(), "svc-1")

	if got := atomic.LoadInt32(&maxConcurrentForService); got != 1 {
		t.Fatalf("expected at most 1 concurrent run for the same service, saw %d", got)
	}

	close(release)
	time.Sleep(20 * time.Millisecond)
}

func TestDispatcherBoundsGlobalConcurrency(t *testing.T) {
	const limit = 2
	var current int32
	var maxSeen int32
	var wg sync.WaitGroup
	release := make(chan struct{})

	d := newDispatcher(limit, func(ctx context.Context, serviceID string) {
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&current, -1)
		wg.Done()
	})

	services := []string{"a", "b", "c", "d", "e"}
	wg.Add(len(services))
	for _, s := range services {
		d.Submit(context.Background(), s)
	}

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&maxSeen); got > limit {
		t.Fatalf("expected at most %d concurrent checks, saw %d", limit, got)
	}
	close(release)
	wg.Wait()
}
