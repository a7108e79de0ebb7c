package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
)

// ContainerLister abstracts the handful of calls this probe needs from
// a container or orchestrator client, so Docker and Kubernetes can
// share one Prober implementation against different backends:
// DockerLister wraps the Docker Engine API, KubernetesLister wraps client-go.
type ContainerLister interface {
	// RunningCount returns how many containers/pods matching names (all
	// of them, if names is empty) in namespace are currently running.
	RunningCount(ctx context.Context, namespace string, names []string) (running, total int, err error)
}

// ContainerProbe checks that the expected number of containers/pods
// are running, covering both TypeKubernetes and TypeDocker.
type ContainerProbe struct {
	typ    servicedef.Type
	Lister ContainerLister
}

func NewKubernetesProbe(lister ContainerLister) ContainerProbe {
	return ContainerProbe{typ: servicedef.TypeKubernetes, Lister: lister}
}
func NewDockerProbe(lister ContainerLister) ContainerProbe {
	return ContainerProbe{typ: servicedef.TypeDocker, Lister: lister}
}

func (p ContainerProbe) Type() servicedef.Type { return p.typ }

func (p ContainerProbe) Check(ctx context.Context, desc registry.Descriptor, deadline time.Time) (checkresult.Result, error) {
	cfg := desc.Container
	if cfg == nil {
		return result(desc, servicedef.StatusUnknown, "missing container config", 0, false, nil), nil
	}
	if p.Lister == nil {
		return result(desc, servicedef.StatusUnknown, fmt.Sprintf("no %s client configured", p.typ), 0, false, nil), nil
	}

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	start := time.Now()
	running, total, err := p.Lister.RunningCount(ctx, cfg.Namespace, cfg.ContainerNames)
	elapsed := time.Since(start)
	if err != nil {
		return result(desc, servicedef.StatusUnknown, fmt.Sprintf("list failed: %v", err), elapsed, false, nil), nil
	}

	want := cfg.ExpectedRunning
	if want <= 0 {
		want = total
	}
	meta := map[string]any{"running": running, "total": total, "expected": want}

	switch {
	case running >= want:
		return result(desc, servicedef.StatusUp, fmt.Sprintf("%d/%d running, meets expected %d", running, total, want), elapsed, true, meta), nil
	case running > 0:
		return result(desc, servicedef.StatusDegraded, fmt.Sprintf("%d/%d running, below expected %d", running, total, want), elapsed, true, meta), nil
	default:
		return result(desc, servicedef.StatusDown, fmt.Sprintf("0/%d running", total), elapsed, true, meta), nil
	}
}
