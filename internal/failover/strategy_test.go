package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/guardant/sentinel/internal/domain/failoverrule"
)

type recordingRedirector struct {
	mu      sync.Mutex
	percent []int
	fail    bool
}

func (r *recordingRedirector) Redirect(_ context.Context, _, _ string, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("redirect failed")
	}
	r.percent = append(r.percent, percent)
	return nil
}

func TestStrategyImmediateRedirectsFully(t *testing.T) {
	r := &recordingRedirector{}
	x := newStrategyExecutor(r, nil)

	strategy := failoverrule.FailoverStrategy{Type: failoverrule.StrategyImmediate}
	if err := x.Execute(context.Background(), strategy, "src", "dst", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.percent) != 1 || r.percent[0] != 100 {
		t.Fatalf("expected a single 100%% redirect, got %v", r.percent)
	}
}

func TestStrategyGradualSteps(t *testing.T) {
	r := &recordingRedirector{}
	x := newStrategyExecutor(r, nil)

	strategy := failoverrule.FailoverStrategy{
		Type:         failoverrule.StrategyGradual,
		Steps:        4,
		DrainTimeout: 40 * time.Millisecond,
	}
	if err := x.Execute(context.Background(), strategy, "src", "dst", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{25, 50, 75, 100}
	if len(r.percent) != len(want) {
		t.Fatalf("expected %d steps, got %v", len(want), r.percent)
	}
	for i, p := range want {
		if r.percent[i] != p {
			t.Fatalf("step %d: expected %d%%, got %d%%", i, p, r.percent[i])
		}
	}
}

func TestStrategyBlueGreenFailsReadinessValidation(t *testing.T) {
	r := &recordingRedirector{}
	x := newStrategyExecutor(r, nil)

	strategy := failoverrule.FailoverStrategy{Type: failoverrule.StrategyBlueGreen}
	neverReady := func(context.Context, string) bool { return false }

	err := x.Execute(context.Background(), strategy, "src", "dst", neverReady)
	if err == nil {
		t.Fatal("expected an error when the target fails readiness validation")
	}
	if len(r.percent) != 0 {
		t.Fatalf("expected no redirect to happen, got %v", r.percent)
	}
}

func TestStrategyUnknownType(t *testing.T) {
	r := &recordingRedirector{}
	x := newStrategyExecutor(r, nil)

	err := x.Execute(context.Background(), failoverrule.FailoverStrategy{Type: "bogus"}, "src", "dst", nil)
	if err == nil {
		t.Fatal("expected an error for an unknown strategy type")
	}
}
