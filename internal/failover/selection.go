package failover

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/guardant/sentinel/internal/domain/endpoint"
	"github.com/guardant/sentinel/internal/domain/failoverrule"
)

// targetSelector picks a failover target among healthy candidate
// endpoints per a rule's SelectionMode. Round-robin position is the
// only selection state that needs to survive across calls; everything
// else is computed fresh from the candidate slice.
type targetSelector struct {
	mu         sync.Mutex
	roundRobin map[string]int // region -> next index
}

func newTargetSelector() *targetSelector {
	return &targetSelector{roundRobin: make(map[string]int)}
}

// Select picks one candidate from candidates (already filtered to
// HEALTHY endpoints other than the source). It prefers endpoints in
// source's region, falling back cross-region when none exist there.
func (s *targetSelector) Select(mode failoverrule.SelectionMode, source endpoint.Endpoint, candidates []endpoint.Endpoint) (endpoint.Endpoint, bool) {
	if len(candidates) == 0 {
		return endpoint.Endpoint{}, false
	}
	pool := filterRegion(candidates, source.Region)
	if len(pool) == 0 {
		pool = candidates
	}

	switch mode {
	case failoverrule.SelectLowestLoad:
		return lowestLoad(pool), true
	case failoverrule.SelectRandom:
		return pool[rand.Intn(len(pool))], true
	case failoverrule.SelectClosestRegion:
		// pool is already region-preferred; the first entry is as close
		// as any, so fold this into a stable pick rather than a second
		// distance metric the domain model has no data for.
		return lowestPriority(pool), true
	case failoverrule.SelectRoundRobin:
		return s.roundRobinPick(source.Region, pool), true
	case failoverrule.SelectHighestPriority, failoverrule.SelectCustom:
		// SelectCustom has no scoring hook wired (no component in scope
		// supplies per-tenant custom scoring), so it falls back to the
		// same deterministic highest-priority pick.
		return lowestPriority(pool), true
	default:
		return lowestPriority(pool), true
	}
}

func filterRegion(candidates []endpoint.Endpoint, region string) []endpoint.Endpoint {
	var out []endpoint.Endpoint
	for _, c := range candidates {
		if c.Region == region {
			out = append(out, c)
		}
	}
	return out
}

func lowestPriority(pool []endpoint.Endpoint) endpoint.Endpoint {
	best := pool[0]
	for _, c := range pool[1:] {
		if c.Priority < best.Priority {
			best = c
		}
	}
	return best
}

func lowestLoad(pool []endpoint.Endpoint) endpoint.Endpoint {
	best := pool[0]
	bestLoad := loadRatio(best)
	for _, c := range pool[1:] {
		if r := loadRatio(c); r < bestLoad {
			best, bestLoad = c, r
		}
	}
	return best
}

func loadRatio(e endpoint.Endpoint) float64 {
	if e.Capacity <= 0 {
		return float64(e.CurrentLoad)
	}
	return float64(e.CurrentLoad) / float64(e.Capacity)
}

func (s *targetSelector) roundRobinPick(region string, pool []endpoint.Endpoint) endpoint.Endpoint {
	sorted := append([]endpoint.Endpoint(nil), pool...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.roundRobin[region] % len(sorted)
	s.roundRobin[region]++
	return sorted[idx]
}
