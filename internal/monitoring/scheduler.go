// Package monitoring implements the probing engine: a scheduler that
// gives every service its own independent timer, a dispatcher that
// bounds concurrency and coalesces bursts, and an engine that wires
// both to the registry and the probe set. Grounded on the teacher's
// per-resource worker goroutine pattern in internal/app (one
// long-running goroutine per watched resource rather than a single
// global poll loop), generalized from blockchain event watchers to
// per-service check timers.
package monitoring

import (
	"math/rand"
	"sync"
	"time"
)

// scheduler owns one timer goroutine per service id. Interval changes
// take effect before the next tick because updating a service replaces
// its timer outright; "check now" bypasses the timer by invoking fire
// directly without disturbing it.
type scheduler struct {
	mu      sync.Mutex
	timers  map[string]*serviceTimer
	fire    func(serviceID string)
	jitter  func(interval time.Duration) time.Duration
}

type serviceTimer struct {
	stop     chan struct{}
	interval time.Duration
}

func newScheduler(fire func(serviceID string)) *scheduler {
	return &scheduler{
		timers: make(map[string]*serviceTimer),
		fire:   fire,
		jitter: jitterDelay,
	}
}

// jitterDelay spreads a newly (re)scheduled service's first fire
// uniformly across [0, interval) so a bulk registration doesn't make
// every service's first check land on the same tick.
func jitterDelay(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(interval)))
}

// Schedule starts or replaces the timer for serviceID with interval.
// The first fire is jittered; subsequent fires are exactly interval
// apart from the prior fire.
func (s *scheduler) Schedule(serviceID string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[serviceID]; ok {
		close(existing.stop)
	}

	st := &serviceTimer{stop: make(chan struct{}), interval: interval}
	s.timers[serviceID] = st
	go s.run(serviceID, st)
}

func (s *scheduler) run(serviceID string, st *serviceTimer) {
	first := time.NewTimer(s.jitter(st.interval))
	defer first.Stop()
	select {
	case <-st.stop:
		return
	case <-first.C:
	}
	s.fire(serviceID)

	ticker := time.NewTicker(st.interval)
	defer ticker.Stop()
	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			s.fire(serviceID)
		}
	}
}

// Cancel stops serviceID's timer, if any. Safe to call on an unknown id.
func (s *scheduler) Cancel(serviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.timers[serviceID]; ok {
		close(st.stop)
		delete(s.timers, serviceID)
	}
}

// Count returns the number of services currently scheduled.
func (s *scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// FireNow triggers an immediate, out-of-band check without disturbing
// the service's regular timer.
func (s *scheduler) FireNow(serviceID string) {
	s.fire(serviceID)
}

// Stop cancels every scheduled timer.
func (s *scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.timers {
		close(st.stop)
		delete(s.timers, id)
	}
}
