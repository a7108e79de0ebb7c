package failover

import (
	"context"
	"time"

	"github.com/guardant/sentinel/internal/domain/endpoint"
	"github.com/guardant/sentinel/internal/domain/failoverevent"
	"github.com/guardant/sentinel/internal/domain/failoverrule"
	"github.com/guardant/sentinel/internal/domain/nest"
)

// recoveryMonitorExpiry bounds how long a single automatic-recovery
// goroutine runs before giving up, so a source endpoint that never
// comes back doesn't leak a goroutine for the life of the process.
const recoveryMonitorExpiry = 24 * time.Hour

// startRecoveryMonitor launches the goroutine that watches a failed-over
// source endpoint and, once it has passed ConsecutiveSuccessRequired
// consecutive probes after RecoveryDelay, ramps traffic back per the
// rule's RecoveryStrategy. It is a no-op for RecoveryManual rules: those
// only recover through an explicit operator call.
func (c *Controller) startRecoveryMonitor(nestID nest.ID, ev failoverevent.Event, rule failoverrule.Rule) {
	if rule.RecoveryStrategy.Type != failoverrule.RecoveryAutomatic {
		return
	}
	go c.runRecovery(nestID, ev, rule)
}

func (c *Controller) runRecovery(nestID nest.ID, ev failoverevent.Event, rule failoverrule.Rule) {
	strategy := rule.RecoveryStrategy
	delay := strategy.RecoveryDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	required := strategy.ConsecutiveSuccessRequired
	if required <= 0 {
		required = 3
	}

	ctx, cancel := context.WithTimeout(context.Background(), recoveryMonitorExpiry)
	defer cancel()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.probeHealthy(ctx, ev.SourceEndpointID) {
				consecutive++
			} else {
				consecutive = 0
			}
			if consecutive >= required {
				c.rampTrafficBack(ctx, nestID, ev, rule)
				return
			}
		}
	}
}

// probeHealthy issues one direct probe of the source endpoint, bypassing
// the rolling window entirely: recovery must observe the endpoint's
// live state, not a window still full of the failure that triggered it.
func (c *Controller) probeHealthy(ctx context.Context, endpointID string) bool {
	rec, ok := c.findEndpoint(endpointID)
	if !ok {
		return false
	}
	return c.sampler.probe(ctx, rec.ep) == nil
}

func (c *Controller) rampTrafficBack(ctx context.Context, nestID nest.ID, ev failoverevent.Event, rule failoverrule.Rule) {
	strategy := rule.RecoveryStrategy
	percent := strategy.InitialPercentage
	if percent <= 0 {
		percent = 10
	}
	increment := strategy.IncrementPercentage
	if increment <= 0 {
		increment = 20
	}
	interval := strategy.IncrementInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	c.updateEvent(nestID, ev.ID, func(e *failoverevent.Event) {
		e.Status = failoverevent.StatusRecovering
	})

	for percent < 100 {
		if err := c.strategies.redirector.Redirect(ctx, ev.TargetEndpointID, ev.SourceEndpointID, percent); err != nil {
			c.log.WithField("source", ev.SourceEndpointID).WithField("err", err).Warn("recovery ramp step failed")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		percent += increment
	}
	_ = c.strategies.redirector.Redirect(ctx, ev.TargetEndpointID, ev.SourceEndpointID, 100)

	c.completeRecovery(ctx, nestID, ev)
}

func (c *Controller) completeRecovery(ctx context.Context, nestID nest.ID, ev failoverevent.Event) {
	recovered := time.Now()
	c.updateEvent(nestID, ev.ID, func(e *failoverevent.Event) {
		e.Status = failoverevent.StatusRecovered
		e.RecoveredAt = recovered
		e.HasRecoveredAt = true
	})
	c.setEndpointStatus(ctx, nestID, ev.SourceEndpointID, endpoint.StatusHealthy)
	c.clearCooldown(ev.SourceEndpointID, ev.RuleID)

	c.log.WithField("event", ev.ID).WithField("source", ev.SourceEndpointID).Info("endpoint recovered")
	c.publishEventUpdate(nestID, ev.ID)
}
