// Package system defines the lifecycle contract every long-running
// component implements, and a helper to collect their descriptors for
// a process-level health/placement view.
package system

import (
	"context"
	"sort"

	core "github.com/guardant/sentinel/internal/core/service"
)

// Service represents a lifecycle-managed component. All engine and
// controller components implement this so a process manager can start
// and stop them deterministically and aggregate health.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthReporter exposes a component's health check: healthy plus
// free-form diagnostic details.
type HealthReporter interface {
	Health() Health
}

// Health is the result of a component's health check.
type Health struct {
	Healthy bool
	Details map[string]any
}

// AggregateHealth ANDs a set of component healths: the process is
// healthy only when every component reports healthy.
func AggregateHealth(reporters []HealthReporter) Health {
	agg := Health{Healthy: true, Details: map[string]any{}}
	for _, r := range reporters {
		if r == nil {
			continue
		}
		h := r.Health()
		agg.Details[componentKey(r)] = h
		if !h.Healthy {
			agg.Healthy = false
		}
	}
	return agg
}

func componentKey(r HealthReporter) string {
	if named, ok := r.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "component"
}

// DescriptorProvider optionally advertises component metadata.
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}

// CollectDescriptors extracts descriptors, skipping nil entries, sorted
// by layer then name for deterministic presentation.
func CollectDescriptors(providers []DescriptorProvider) []core.Descriptor {
	var out []core.Descriptor
	for _, p := range providers {
		if p == nil {
			continue
		}
		out = append(out, p.Descriptor())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer == out[j].Layer {
			return out[i].Name < out[j].Name
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}
