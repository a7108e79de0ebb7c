package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/guardant/sentinel/internal/domain/failoverrule"
	"github.com/guardant/sentinel/internal/logger"
)

// TrafficRedirector is the injected adapter for the external routing
// layer a strategy execution redirects traffic through (load balancer,
// service mesh, DNS weighting, ...). That routing layer itself is an
// external collaborator; only this contract is in scope here.
type TrafficRedirector interface {
	// Redirect shifts percent of sourceEndpointID's traffic onto
	// targetEndpointID. A strategy calls it once (IMMEDIATE/BLUE_GREEN)
	// or repeatedly with an increasing percent (GRADUAL).
	Redirect(ctx context.Context, sourceEndpointID, targetEndpointID string, percent int) error
}

// NoopRedirector is the TrafficRedirector used when no real routing
// layer is injected: it logs the intended redirect and succeeds, so
// strategy execution stays testable without one.
type NoopRedirector struct{ Log *logger.Logger }

func (n NoopRedirector) Redirect(_ context.Context, source, target string, percent int) error {
	if n.Log != nil {
		n.Log.WithField("source", source).WithField("target", target).WithField("percent", percent).Info("redirecting traffic")
	}
	return nil
}

// readinessValidator probes a failover target before a strategy commits
// traffic to it. Returns false when the target should not receive
// traffic yet.
type readinessValidator func(ctx context.Context, targetEndpointID string) bool

// strategyExecutor runs one of the failover execution strategies.
type strategyExecutor struct {
	redirector TrafficRedirector
	log        *logger.Logger
}

func newStrategyExecutor(r TrafficRedirector, log *logger.Logger) *strategyExecutor {
	if log == nil {
		log = logger.NewDefault("failover.strategy")
	}
	if r == nil {
		r = NoopRedirector{Log: log}
	}
	return &strategyExecutor{redirector: r, log: log}
}

// Execute redirects traffic per strategy.Type, returning an error if
// any step fails. validate, when non-nil, gates BLUE_GREEN, CANARY and
// WEIGHTED_ROUND_ROBIN on the target's readiness before the first
// redirect; IMMEDIATE and GRADUAL redirect without that gate, matching
// their "just move load" semantics.
func (x *strategyExecutor) Execute(ctx context.Context, strategy failoverrule.FailoverStrategy, sourceID, targetID string, validate readinessValidator) error {
	switch strategy.Type {
	case failoverrule.StrategyImmediate:
		return x.redirector.Redirect(ctx, sourceID, targetID, 100)

	case failoverrule.StrategyGradual:
		return x.executeGradual(ctx, strategy, sourceID, targetID)

	case failoverrule.StrategyBlueGreen:
		if validate != nil && !validate(ctx, targetID) {
			return fmt.Errorf("blue/green: target %s failed readiness validation", targetID)
		}
		return x.redirector.Redirect(ctx, sourceID, targetID, 100)

	case failoverrule.StrategyCanary, failoverrule.StrategyWeightedRoundRobin:
		if validate != nil && !validate(ctx, targetID) {
			return fmt.Errorf("%s: target %s failed readiness validation", strategy.Type, targetID)
		}
		// Canary and weighted-round-robin surface the same
		// validate-then-redirect contract as blue/green here; the actual
		// proportional split and success-window promotion is owned by the
		// external routing layer the redirector talks to.
		return x.redirector.Redirect(ctx, sourceID, targetID, 100)

	default:
		return fmt.Errorf("unknown failover strategy %q", strategy.Type)
	}
}

func (x *strategyExecutor) executeGradual(ctx context.Context, strategy failoverrule.FailoverStrategy, sourceID, targetID string) error {
	steps := strategy.Steps
	if steps <= 0 {
		steps = 5
	}
	drain := strategy.DrainTimeout
	if drain <= 0 {
		drain = 30 * time.Second
	}
	stepDelay := drain / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		percent := (100 * i) / steps
		if err := x.redirector.Redirect(ctx, sourceID, targetID, percent); err != nil {
			return fmt.Errorf("gradual step %d/%d: %w", i, steps, err)
		}
		if i == steps {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stepDelay):
		}
	}
	return nil
}
