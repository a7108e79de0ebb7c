package probes

import (
	"context"
	"testing"
	"time"

	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
)

type fakeLister struct {
	running, total int
	err            error
}

func (f fakeLister) RunningCount(context.Context, string, []string) (int, int, error) {
	return f.running, f.total, f.err
}

func TestContainerProbeUpWhenAllRunning(t *testing.T) {
	p := NewDockerProbe(fakeLister{running: 3, total: 3})
	desc := registry.Descriptor{Container: &servicedef.ContainerConfig{ExpectedRunning: 3}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusUp {
		t.Fatalf("expected up, got %s", res.Status)
	}
}

func TestContainerProbeDegradedWhenPartiallyRunning(t *testing.T) {
	p := NewKubernetesProbe(fakeLister{running: 1, total: 3})
	desc := registry.Descriptor{Container: &servicedef.ContainerConfig{ExpectedRunning: 3}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDegraded {
		t.Fatalf("expected degraded, got %s", res.Status)
	}
}

func TestContainerProbeDownWhenNoneRunning(t *testing.T) {
	p := NewDockerProbe(fakeLister{running: 0, total: 2})
	desc := registry.Descriptor{Container: &servicedef.ContainerConfig{ExpectedRunning: 2}}
	res, err := p.Check(context.Background(), desc, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDown {
		t.Fatalf("expected down, got %s", res.Status)
	}
}
