// Package service holds small cross-cutting helpers shared by every
// component: architectural descriptors, pagination limits and
// observation hooks. None of it is domain-specific.
package service

// Layer describes the architectural slice a component belongs to.
type Layer string

const (
	LayerResilience Layer = "resilience"
	LayerStorage    Layer = "storage"
	LayerEngine     Layer = "engine"
	LayerFailover   Layer = "failover"
	LayerIngress    Layer = "ingress"
)

// Descriptor advertises a component's placement and capabilities. It does
// not change runtime behavior; it lets a process-level manager and
// documentation reason about components uniformly.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}
