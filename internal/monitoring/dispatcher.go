package monitoring

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// dispatcher bounds total in-flight checks across all services via a
// weighted semaphore, and coalesces bursts per service: if a service
// already has a check in flight, at most one more run is queued behind
// it (a coalesced "pending" flag), so a slow probe never lets the
// scheduler pile up an unbounded run queue for that one service.
type dispatcher struct {
	sem *semaphore.Weighted

	mu    sync.Mutex
	state map[string]*serviceDispatchState

	run func(ctx context.Context, serviceID string)
}

type serviceDispatchState struct {
	inFlight bool
	pending  bool
}

func newDispatcher(maxConcurrent int64, run func(ctx context.Context, serviceID string)) *dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	return &dispatcher{
		sem:   semaphore.NewWeighted(maxConcurrent),
		state: make(map[string]*serviceDispatchState),
		run:   run,
	}
}

// Submit requests a check run for serviceID. If one is already in
// flight, this run is coalesced into a single pending rerun rather than
// queued a second or third time.
func (d *dispatcher) Submit(ctx context.Context, serviceID string) {
	d.mu.Lock()
	st, ok := d.state[serviceID]
	if !ok {
		st = &serviceDispatchState{}
		d.state[serviceID] = st
	}
	if st.inFlight {
		st.pending = true
		d.mu.Unlock()
		return
	}
	st.inFlight = true
	d.mu.Unlock()

	go d.execute(ctx, serviceID, st)
}

func (d *dispatcher) execute(ctx context.Context, serviceID string, st *serviceDispatchState) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.mu.Lock()
		st.inFlight = false
		st.pending = false
		d.mu.Unlock()
		return
	}
	d.run(ctx, serviceID)
	d.sem.Release(1)

	d.mu.Lock()
	rerun := st.pending
	st.pending = false
	if !rerun {
		st.inFlight = false
	}
	d.mu.Unlock()

	if rerun {
		d.execute(ctx, serviceID, st)
	}
}

// Forget drops coalescing state for a removed service.
func (d *dispatcher) Forget(serviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.state, serviceID)
}
