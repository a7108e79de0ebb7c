package probes

import (
	"context"
	"testing"
	"time"

	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/registry"
)

func heartbeatDescriptor(cfg *servicedef.HeartbeatConfig) registry.Descriptor {
	return registry.Descriptor{ID: "svc-hb", Heartbeat: cfg}
}

func TestHeartbeatProbeUpWithinToleranceBoundary(t *testing.T) {
	cfg := &servicedef.HeartbeatConfig{ExpectedInterval: 30 * time.Second, Tolerance: 5 * time.Second}
	last := time.Now().Add(-34 * time.Second)
	p := HeartbeatProbe{LastSeen: func(string) time.Time { return last }}

	res, err := p.Check(context.Background(), heartbeatDescriptor(cfg), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusUp {
		t.Fatalf("expected up just inside the tolerance boundary, got %s", res.Status)
	}
}

func TestHeartbeatProbeDownPastToleranceBoundary(t *testing.T) {
	cfg := &servicedef.HeartbeatConfig{ExpectedInterval: 30 * time.Second, Tolerance: 5 * time.Second}
	last := time.Now().Add(-36 * time.Second)
	p := HeartbeatProbe{LastSeen: func(string) time.Time { return last }}

	res, err := p.Check(context.Background(), heartbeatDescriptor(cfg), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDown {
		t.Fatalf("expected down past the tolerance boundary, got %s", res.Status)
	}
}

func TestHeartbeatProbeDownWhenNeverSeen(t *testing.T) {
	cfg := &servicedef.HeartbeatConfig{ExpectedInterval: 30 * time.Second}
	p := HeartbeatProbe{LastSeen: func(string) time.Time { return time.Time{} }}

	res, err := p.Check(context.Background(), heartbeatDescriptor(cfg), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != servicedef.StatusDown {
		t.Fatalf("expected down, got %s", res.Status)
	}
}
