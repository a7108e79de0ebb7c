package failover

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/guardant/sentinel/internal/domain/failoverrule"
	"github.com/guardant/sentinel/internal/logger"
)

// DetectionConfig controls the rule detector.
type DetectionConfig struct {
	Interval time.Duration
}

func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{Interval: 10 * time.Second}
}

// Detector evaluates every enabled rule against every endpoint its
// ServicePattern matches, on a fixed tick. Evaluation for a single
// endpoint is serialized (one at a time, never concurrently with
// itself) so a rule's cooldown bookkeeping and the controller's
// concurrent-failover cap stay race-free; different endpoints may
// evaluate concurrently.
type Detector struct {
	cfg        DetectionConfig
	controller *Controller
	log        *logger.Logger

	endpointLocks sync.Map // endpoint id -> *sync.Mutex
	stop          chan struct{}
}

func newDetector(cfg DetectionConfig, c *Controller, log *logger.Logger) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("failover.detector")
	}
	return &Detector{cfg: cfg, controller: c, log: log}
}

func (d *Detector) Start(ctx context.Context) error {
	d.stop = make(chan struct{})
	go d.loop(ctx)
	return nil
}

func (d *Detector) Stop(context.Context) error {
	if d.stop != nil {
		close(d.stop)
	}
	return nil
}

func (d *Detector) loop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.evaluateAll(ctx)
		}
	}
}

func (d *Detector) evaluateAll(ctx context.Context) {
	recs := d.controller.listAllEndpoints()
	for _, rec := range recs {
		rec := rec
		go d.evaluateEndpointSerialized(ctx, rec)
	}
}

func (d *Detector) evaluateEndpointSerialized(ctx context.Context, rec endpointRecord) {
	lockI, _ := d.endpointLocks.LoadOrStore(rec.ep.ID, &sync.Mutex{})
	lock := lockI.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	rules := d.controller.matchingRules(rec.nestID, rec.ep.Name)
	window := d.controller.windowFor(rec.ep.ID)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if d.controller.inCooldown(rec.ep.ID, rule.ID) {
			continue
		}
		if !conditionsHold(rule.TriggerConditions, window) {
			continue
		}
		d.controller.onRuleTriggered(ctx, rec.nestID, rule, rec.ep)
	}
}

func conditionsHold(conditions []failoverrule.TriggerCondition, window *rollingWindow) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, c := range conditions {
		if !conditionHolds(c, window) {
			return false
		}
	}
	return true
}

func conditionHolds(c failoverrule.TriggerCondition, window *rollingWindow) bool {
	var current float64
	switch c.Metric {
	case failoverrule.MetricErrorRate:
		current = window.ErrorRate()
	case failoverrule.MetricAvailability:
		current = window.Availability()
	case failoverrule.MetricResponseTime:
		avg, ok := window.AvgHealthyResponseTime()
		if !ok {
			return false
		}
		current = float64(avg) / float64(time.Millisecond)
	case failoverrule.MetricCustom:
		// No per-tenant custom metric source is wired into the health
		// sampler; a custom condition never holds until one is.
		return false
	default:
		return false
	}
	return compare(current, c.Operator, c.Threshold)
}

func compare(current float64, op failoverrule.Operator, threshold float64) bool {
	switch op {
	case failoverrule.OpGreaterThan:
		return current > threshold
	case failoverrule.OpLessThan:
		return current < threshold
	case failoverrule.OpGreaterEq:
		return current >= threshold
	case failoverrule.OpLessEq:
		return current <= threshold
	case failoverrule.OpEqual:
		return current == threshold
	default:
		return false
	}
}

// compileServicePattern wraps regexp.Compile so a malformed pattern
// fails a rule match rather than a process start.
func compileServicePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(pattern)
}
