package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/guardant/sentinel/internal/domain/checkresult"
	"github.com/guardant/sentinel/internal/domain/nest"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/eventbus"
	"github.com/guardant/sentinel/internal/logger"
	"github.com/guardant/sentinel/internal/monitoring/probes"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
	"github.com/guardant/sentinel/internal/storage"
)

// Event kinds published as checks complete.
const (
	EventCheckResult   eventbus.Kind = "monitoring.check-result"
	EventAlertEligible eventbus.Kind = "monitoring.alert-eligible"
)

// CheckResultEvent is the EventCheckResult payload.
type CheckResultEvent struct {
	Result checkresult.Result
}

// AlertEligibleEvent is published once a service has accumulated
// enough consecutive failing checks to cross its alerting policy's
// MinConsecutiveFails threshold. The alert-delivery subsystem itself is
// out of scope; this is the data contract it would consume.
type AlertEligibleEvent struct {
	NestID              string
	ServiceID           string
	ConsecutiveFailures int
	LastResult          checkresult.Result
}

const defaultMinConsecutiveFails = 3

// Config controls engine-wide behavior not carried per-service.
type Config struct {
	MaxConcurrent int64 // bounded across every in-flight check, all services
}

func DefaultConfig() Config {
	return Config{MaxConcurrent: 32}
}

type scheduledService struct {
	desc                registry.Descriptor
	minConsecutiveFails int
}

// Engine ties the scheduler, dispatcher, registry and probe set
// together: it reacts to registry add/update/remove events to keep
// schedules current, runs each check through a retry wrapper, and
// turns every checkresult.Result into a runtime-shadow update, an
// event-bus publish, and a storage write.
type Engine struct {
	cfg     Config
	reg     *registry.Registry
	probers map[servicedef.Type]probes.Prober
	store   *storage.Adapter
	bus     *eventbus.Bus
	log     *logger.Logger

	sched *scheduler
	disp  *dispatcher
	guard *NetworkGuard

	mu       sync.RWMutex
	services map[string]scheduledService
	shadow   map[string]servicedef.RuntimeShadow
	fails    map[string]int

	unsub []func()
}

func New(cfg Config, reg *registry.Registry, probers map[servicedef.Type]probes.Prober, store *storage.Adapter, bus *eventbus.Bus, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("monitoring")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 32
	}
	e := &Engine{
		cfg:      cfg,
		reg:      reg,
		probers:  probers,
		store:    store,
		bus:      bus,
		log:      log,
		services: make(map[string]scheduledService),
		shadow:   make(map[string]servicedef.RuntimeShadow),
		fails:    make(map[string]int),
	}
	e.sched = newScheduler(e.onFire)
	e.disp = newDispatcher(cfg.MaxConcurrent, e.runCheck)
	return e
}

// SetGuard attaches a NetworkGuard whose suppression state gates
// EventAlertEligible publication: a status-change record is still
// written to storage while suppressed, only the alert-eligibility
// notification is withheld.
func (e *Engine) SetGuard(guard *NetworkGuard) { e.guard = guard }

// LoadNest schedules every currently-registered service for nestID. Call
// once per known tenant at startup; subsequent changes arrive as
// registry events.
func (e *Engine) LoadNest(ctx context.Context, nestID nest.ID) error {
	defs, err := e.reg.List(ctx, nestID)
	if err != nil {
		return fmt.Errorf("list nest %s: %w", nestID, err)
	}
	for _, def := range defs {
		e.register(def)
	}
	return nil
}

// Start subscribes to registry change events so schedules stay current
// without polling.
func (e *Engine) Start(context.Context) error {
	e.unsub = append(e.unsub,
		e.reg.Subscribe(registry.EventServiceAdded, e.onRegistryEvent),
		e.reg.Subscribe(registry.EventServiceUpdated, e.onRegistryEvent),
		e.reg.Subscribe(registry.EventServiceRemoved, e.onRegistryRemoved),
	)
	return nil
}

func (e *Engine) Stop(context.Context) error {
	for _, unsub := range e.unsub {
		unsub()
	}
	e.sched.Stop()
	return nil
}

func (e *Engine) Name() string { return "monitoring-engine" }

func (e *Engine) onRegistryEvent(evt eventbus.Event) {
	se, ok := evt.Payload.(registry.ServiceEvent)
	if !ok {
		return
	}
	if !se.Def.Schedule.Enabled {
		e.unregister(se.ID)
		return
	}
	e.register(se.Def)
}

func (e *Engine) onRegistryRemoved(evt eventbus.Event) {
	se, ok := evt.Payload.(registry.ServiceEvent)
	if !ok {
		return
	}
	e.unregister(se.ID)
}

func (e *Engine) register(def servicedef.Definition) {
	desc := registry.ToDescriptor(def)
	minFails := def.Alerting.MinConsecutiveFails
	if minFails <= 0 {
		minFails = defaultMinConsecutiveFails
	}

	e.mu.Lock()
	e.services[desc.ID] = scheduledService{desc: desc, minConsecutiveFails: minFails}
	e.mu.Unlock()

	e.sched.Schedule(desc.ID, desc.Interval)
}

func (e *Engine) unregister(serviceID string) {
	e.mu.Lock()
	delete(e.services, serviceID)
	delete(e.shadow, serviceID)
	delete(e.fails, serviceID)
	e.mu.Unlock()

	e.sched.Cancel(serviceID)
	e.disp.Forget(serviceID)
}

// onFire is the scheduler callback: it hands the service off to the
// dispatcher, which applies the bounded-concurrency and per-service
// coalescing rules before runCheck actually executes.
func (e *Engine) onFire(serviceID string) {
	e.disp.Submit(context.Background(), serviceID)
}

// CheckNow runs an out-of-band check for serviceID immediately,
// bypassing the schedule's regular interval but still going through
// dispatcher coalescing.
func (e *Engine) CheckNow(serviceID string) {
	e.disp.Submit(context.Background(), serviceID)
}

// Shadow returns the last observed runtime state for serviceID.
func (e *Engine) Shadow(serviceID string) (servicedef.RuntimeShadow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.shadow[serviceID]
	return s, ok
}

// ScheduledCount reports how many services currently have a live timer.
func (e *Engine) ScheduledCount() int { return e.sched.Count() }

func (e *Engine) runCheck(ctx context.Context, serviceID string) {
	e.mu.RLock()
	svc, ok := e.services[serviceID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	prober, ok := e.probers[svc.desc.Type]
	if !ok {
		e.log.WithField("service_id", serviceID).WithField("type", string(svc.desc.Type)).Warn("no prober registered for service type")
		return
	}

	res, attempts := e.checkWithRetry(ctx, prober, svc.desc)
	res.Attempt = attempts

	e.handleResult(ctx, svc, res)
}

// checkWithRetry runs prober.Check through the engine's retry policy:
// only transport-class errors (per resilience.ClassifyTransport) are
// retried, up to desc.Retries additional attempts, each bounded by
// desc.Timeout.
func (e *Engine) checkWithRetry(ctx context.Context, prober probes.Prober, desc registry.Descriptor) (checkresult.Result, int) {
	maxAttempts := desc.Retries + 1
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	cfg := resilience.RetryConfig{
		MaxAttempts: maxAttempts,
		Strategy:    resilience.StrategyExponential,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Factor:      2,
		Jitter:      true,
		Retryable:   resilience.ClassifyTransport,
	}

	var last checkresult.Result
	attempts := 0
	_ = resilience.Retry(ctx, cfg, func(attemptCtx context.Context) error {
		attempts++
		timeout := desc.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		deadline := time.Now().Add(timeout)
		res, err := prober.Check(attemptCtx, desc, deadline)
		last = res
		return err
	})
	return last, attempts
}

func (e *Engine) handleResult(ctx context.Context, svc scheduledService, res checkresult.Result) {
	e.mu.Lock()
	previous := e.shadow[svc.desc.ID]
	e.shadow[svc.desc.ID] = servicedef.RuntimeShadow{
		LastStatus:    res.Status,
		LastCheck:     res.Timestamp,
		StatusMessage: res.Message,
		ResponseTime:  res.ResponseTime,
	}

	var fails int
	if res.Status == servicedef.StatusDown {
		e.fails[svc.desc.ID]++
	} else {
		e.fails[svc.desc.ID] = 0
	}
	fails = e.fails[svc.desc.ID]
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Kind: EventCheckResult, Payload: CheckResultEvent{Result: res}})
		if fails == svc.minConsecutiveFails && (e.guard == nil || !e.guard.Suppressed()) {
			e.bus.Publish(eventbus.Event{Kind: EventAlertEligible, Payload: AlertEligibleEvent{
				NestID:              svc.desc.NestID,
				ServiceID:           svc.desc.ID,
				ConsecutiveFailures: fails,
				LastResult:          res,
			}})
		}
	}

	e.persistResult(ctx, svc, previous, res)
}

func (e *Engine) persistResult(ctx context.Context, svc scheduledService, previous servicedef.RuntimeShadow, res checkresult.Result) {
	if e.store == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		e.log.WithField("service_id", svc.desc.ID).WithField("error", err.Error()).Warn("failed to marshal check result")
		return
	}

	if _, err := e.store.Store(ctx, nest.ID(svc.desc.NestID), storage.DataTypeServiceStatus, payload, storage.StoreOptions{Key: svc.desc.ID}); err != nil {
		e.log.WithField("service_id", svc.desc.ID).WithField("error", err.Error()).Warn("failed to persist service status")
	}

	if previous.LastStatus != res.Status {
		histKey := fmt.Sprintf("%s:%d", svc.desc.ID, res.Timestamp.UnixNano())
		if _, err := e.store.Store(ctx, nest.ID(svc.desc.NestID), storage.DataTypeMonitoringData, payload, storage.StoreOptions{Key: histKey}); err != nil {
			e.log.WithField("service_id", svc.desc.ID).WithField("error", err.Error()).Warn("failed to persist status-change record")
		}
	}
}
