// Package failover implements the endpoint health graph, rule
// evaluation, strategy execution and automatic recovery for
// tenant-scoped failover (engine monitoring results feed alerting;
// failover is the complementary layer that actually moves traffic).
package failover

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	core "github.com/guardant/sentinel/internal/core/service"
	"github.com/guardant/sentinel/internal/domain/endpoint"
	"github.com/guardant/sentinel/internal/domain/failoverevent"
	"github.com/guardant/sentinel/internal/domain/failoverrule"
	"github.com/guardant/sentinel/internal/domain/nest"
	"github.com/guardant/sentinel/internal/eventbus"
	"github.com/guardant/sentinel/internal/logger"
	"github.com/guardant/sentinel/internal/resilience"
	"github.com/guardant/sentinel/internal/system"
)

// EventFailoverTriggered is published whenever a rule fires a failover.
const EventFailoverTriggered eventbus.Kind = "failover.triggered"

// EventFailoverUpdated is published whenever an existing failover
// event's Status advances after the in-progress record (completed,
// failed, recovering, recovered).
const EventFailoverUpdated eventbus.Kind = "failover.updated"

// FailoverTriggeredEvent is the EventFailoverTriggered payload.
type FailoverTriggeredEvent struct {
	NestID nest.ID
	Event  failoverevent.Event
}

// FailoverUpdatedEvent is the EventFailoverUpdated payload.
type FailoverUpdatedEvent struct {
	NestID nest.ID
	Event  failoverevent.Event
}

// Config controls the Controller and its health sampler / detector.
type Config struct {
	Health            HealthConfig
	Detection         DetectionConfig
	MaxConcurrent     int           // hard cap on in-flight failovers across all tenants
	DefaultWindowSpan time.Duration // rolling metrics window span
	Breaker           resilience.BreakerConfig
}

func DefaultConfig() Config {
	return Config{
		Health:            DefaultHealthConfig(),
		Detection:         DefaultDetectionConfig(),
		MaxConcurrent:     10,
		DefaultWindowSpan: defaultWindowSpan,
		Breaker:           resilience.DefaultBreakerConfig(),
	}
}

// endpointRecord pairs an endpoint with the tenant it belongs to, since
// endpoint.Endpoint itself carries no NestID.
type endpointRecord struct {
	nestID nest.ID
	ep     endpoint.Endpoint
}

// Controller is the process-wide failover component: it owns the
// endpoint health graph, evaluates rules against it, executes failover
// strategies and runs automatic recovery. One Controller serves every
// tenant; isolation is by nestID parameter and map key, following the
// same convention the monitoring engine and registry use.
type Controller struct {
	cfg Config
	bus *eventbus.Bus
	log *logger.Logger

	store      Store
	sampler    *HealthSampler
	detector   *Detector
	selector   *targetSelector
	strategies *strategyExecutor

	mu        sync.RWMutex
	endpoints map[string]endpointRecord          // endpoint id -> record
	rules     map[nest.ID]map[string]failoverrule.Rule
	events    map[nest.ID]map[string]failoverevent.Event
	windows   map[string]*rollingWindow          // endpoint id -> window
	breakers  map[string]*resilience.CircuitBreaker
	cooldowns map[string]time.Time // endpointID+"|"+ruleID -> cooldown expiry

	inFlight chan struct{} // capacity MaxConcurrent

	// pool and limiter are the two process-wide shared resources per
	// §4.A: a connection pool and a rate limiter, optionally injected by
	// the process entrypoint so health probing draws on them rather than
	// opening unbounded sockets of its own. The monitoring engine does
	// not use them.
	pool    *resilience.ConnPool
	limiter *resilience.RateLimiter
}

// SetConnPool wires a shared HTTP connection pool into health probing.
// probe() falls back to an ad-hoc client when none is set.
func (c *Controller) SetConnPool(pool *resilience.ConnPool) { c.pool = pool }

// SetRateLimiter wires a shared rate limiter into health probing, keyed
// per endpoint so one noisy endpoint cannot starve another's probe
// budget. No limiter set means probing is unbounded.
func (c *Controller) SetRateLimiter(limiter *resilience.RateLimiter) { c.limiter = limiter }

// New creates a Controller. redirector may be nil, in which case
// traffic redirection is logged but not actually performed.
func New(cfg Config, store Store, bus *eventbus.Bus, redirector TrafficRedirector, log *logger.Logger) *Controller {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.DefaultWindowSpan <= 0 {
		cfg.DefaultWindowSpan = defaultWindowSpan
	}
	if log == nil {
		log = logger.NewDefault("failover.controller")
	}
	if store == nil {
		store = NewMemoryStore()
	}

	c := &Controller{
		cfg:       cfg,
		bus:       bus,
		log:       log,
		store:     store,
		selector:  newTargetSelector(),
		endpoints: make(map[string]endpointRecord),
		rules:     make(map[nest.ID]map[string]failoverrule.Rule),
		events:    make(map[nest.ID]map[string]failoverevent.Event),
		windows:   make(map[string]*rollingWindow),
		breakers:  make(map[string]*resilience.CircuitBreaker),
		cooldowns: make(map[string]time.Time),
		inFlight:  make(chan struct{}, cfg.MaxConcurrent),
	}
	c.strategies = newStrategyExecutor(redirector, log)
	c.sampler = newHealthSampler(cfg.Health, c, log)
	c.detector = newDetector(cfg.Detection, c, log)
	return c
}

func (c *Controller) Name() string { return "failover-controller" }

func (c *Controller) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   c.Name(),
		Domain: "failover",
		Layer:  core.LayerFailover,
		Capabilities: []string{
			"health-graph", "rule-evaluation", "strategy-execution", "automatic-recovery",
		},
	}
}

func (c *Controller) Start(ctx context.Context) error {
	if err := c.sampler.Start(ctx); err != nil {
		return fmt.Errorf("start health sampler: %w", err)
	}
	if err := c.detector.Start(ctx); err != nil {
		return fmt.Errorf("start detector: %w", err)
	}
	return nil
}

func (c *Controller) Stop(ctx context.Context) error {
	_ = c.detector.Stop(ctx)
	_ = c.sampler.Stop(ctx)
	return nil
}

func (c *Controller) Health() system.Health {
	c.mu.RLock()
	n := len(c.endpoints)
	c.mu.RUnlock()
	return system.Health{Healthy: true, Details: map[string]any{"endpoints": n}}
}

// LoadNest hydrates the controller's in-memory endpoint/rule/event maps
// for a tenant from the backing Store. Call once per known tenant at
// startup; endpoints and rules added afterward go through AddEndpoint /
// AddRule, which keep the Store and in-memory view in sync themselves.
func (c *Controller) LoadNest(ctx context.Context, nestID nest.ID) error {
	eps, err := c.store.ListEndpoints(ctx, nestID)
	if err != nil {
		return fmt.Errorf("list endpoints: %w", err)
	}
	rules, err := c.store.ListRules(ctx, nestID)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	events, err := c.store.ListEvents(ctx, nestID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ep := range eps {
		c.endpoints[ep.ID] = endpointRecord{nestID: nestID, ep: ep}
		c.windows[ep.ID] = newRollingWindow(c.cfg.DefaultWindowSpan)
		c.breakers[ep.ID] = resilience.NewCircuitBreaker("failover-endpoint:"+ep.ID, c.cfg.Breaker)
	}
	if c.rules[nestID] == nil {
		c.rules[nestID] = make(map[string]failoverrule.Rule)
	}
	for _, r := range rules {
		c.rules[nestID][r.ID] = r
	}
	if c.events[nestID] == nil {
		c.events[nestID] = make(map[string]failoverevent.Event)
	}
	for _, ev := range events {
		c.events[nestID][ev.ID] = ev
	}
	return nil
}

// AddEndpoint registers an endpoint for health sampling and failover
// targeting, persisting it through the Store.
func (c *Controller) AddEndpoint(ctx context.Context, nestID nest.ID, ep endpoint.Endpoint) error {
	if ep.Status == "" {
		ep.Status = endpoint.StatusHealthy
	}
	if err := c.store.AddEndpoint(ctx, nestID, ep); err != nil {
		return err
	}
	c.mu.Lock()
	c.endpoints[ep.ID] = endpointRecord{nestID: nestID, ep: ep}
	c.windows[ep.ID] = newRollingWindow(c.cfg.DefaultWindowSpan)
	c.breakers[ep.ID] = resilience.NewCircuitBreaker("failover-endpoint:"+ep.ID, c.cfg.Breaker)
	c.mu.Unlock()
	return nil
}

func (c *Controller) RemoveEndpoint(ctx context.Context, nestID nest.ID, id string) error {
	if err := c.store.RemoveEndpoint(ctx, nestID, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.endpoints, id)
	delete(c.windows, id)
	delete(c.breakers, id)
	c.mu.Unlock()
	return nil
}

func (c *Controller) ListEndpoints(nestID nest.ID) []endpoint.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []endpoint.Endpoint
	for _, rec := range c.endpoints {
		if rec.nestID == nestID {
			out = append(out, rec.ep)
		}
	}
	return out
}

// AddRule registers a failover rule for a tenant, persisting it through
// the Store. ServicePattern is validated as a regex here so a malformed
// rule is rejected at registration rather than silently never matching.
func (c *Controller) AddRule(ctx context.Context, nestID nest.ID, rule failoverrule.Rule) error {
	if _, err := regexp.Compile(rule.ServicePattern); err != nil {
		return fmt.Errorf("invalid service pattern %q: %w", rule.ServicePattern, err)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := c.store.AddRule(ctx, nestID, rule); err != nil {
		return err
	}
	c.mu.Lock()
	if c.rules[nestID] == nil {
		c.rules[nestID] = make(map[string]failoverrule.Rule)
	}
	c.rules[nestID][rule.ID] = rule
	c.mu.Unlock()
	return nil
}

func (c *Controller) RemoveRule(ctx context.Context, nestID nest.ID, id string) error {
	if err := c.store.RemoveRule(ctx, nestID, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.rules[nestID], id)
	c.mu.Unlock()
	return nil
}

func (c *Controller) ListRules(nestID nest.ID) []failoverrule.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]failoverrule.Rule, 0, len(c.rules[nestID]))
	for _, r := range c.rules[nestID] {
		out = append(out, r)
	}
	return out
}

func (c *Controller) ListEvents(nestID nest.ID) []failoverevent.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]failoverevent.Event, 0, len(c.events[nestID]))
	for _, e := range c.events[nestID] {
		out = append(out, e)
	}
	return out
}

// TriggerFailover manually forces a failover from sourceEndpointID under
// rule ruleID, bypassing condition evaluation. Operators use this for a
// planned maintenance failover; automatic triggers go through the
// detector instead.
func (c *Controller) TriggerFailover(ctx context.Context, nestID nest.ID, ruleID, sourceEndpointID string) (failoverevent.Event, error) {
	c.mu.RLock()
	rule, ok := c.rules[nestID][ruleID]
	rec, epOK := c.endpoints[sourceEndpointID]
	c.mu.RUnlock()
	if !ok {
		return failoverevent.Event{}, fmt.Errorf("unknown rule %s", ruleID)
	}
	if !epOK {
		return failoverevent.Event{}, fmt.Errorf("unknown endpoint %s", sourceEndpointID)
	}
	return c.onRuleTriggered(ctx, nestID, rule, rec.ep), nil
}

// --- helpers consumed by HealthSampler and Detector ---

func (c *Controller) listAllEndpoints() []endpointRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]endpointRecord, 0, len(c.endpoints))
	for _, rec := range c.endpoints {
		out = append(out, rec)
	}
	return out
}

func (c *Controller) findEndpoint(id string) (endpointRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.endpoints[id]
	return rec, ok
}

func (c *Controller) windowFor(endpointID string) *rollingWindow {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[endpointID]
	if !ok {
		w = newRollingWindow(c.cfg.DefaultWindowSpan)
		c.windows[endpointID] = w
	}
	return w
}

func (c *Controller) breakerFor(endpointID string) *resilience.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[endpointID]
	if !ok {
		b = resilience.NewCircuitBreaker("failover-endpoint:"+endpointID, c.cfg.Breaker)
		c.breakers[endpointID] = b
	}
	return b
}

func (c *Controller) setEndpointStatus(ctx context.Context, nestID nest.ID, endpointID string, status endpoint.Status) {
	c.mu.Lock()
	rec, ok := c.endpoints[endpointID]
	if !ok {
		c.mu.Unlock()
		return
	}
	previous := rec.ep.Status
	if previous == status {
		c.mu.Unlock()
		return
	}
	rec.ep.Status = status
	rec.ep.LastHealthCheck = time.Now()
	c.endpoints[endpointID] = rec
	c.mu.Unlock()

	if err := c.store.AddEndpoint(ctx, nestID, rec.ep); err != nil {
		c.log.WithField("endpoint", endpointID).WithField("err", err).Warn("failed to persist endpoint status")
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Kind: EventEndpointStatusChanged, Payload: EndpointStatusChangedEvent{
			Endpoint: rec.ep,
			Previous: previous,
		}})
	}
}

// matchingRules returns every rule in nestID whose ServicePattern
// matches serviceName, enabled or not, ordered by Priority ascending (a
// lower Priority value wins ties between rules that both match).
func (c *Controller) matchingRules(nestID nest.ID, serviceName string) []failoverrule.Rule {
	c.mu.RLock()
	rules := make([]failoverrule.Rule, 0, len(c.rules[nestID]))
	for _, r := range c.rules[nestID] {
		rules = append(rules, r)
	}
	c.mu.RUnlock()

	var out []failoverrule.Rule
	for _, r := range rules {
		re, err := compileServicePattern(r.ServicePattern)
		if err != nil || !re.MatchString(serviceName) {
			continue
		}
		out = append(out, r)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Priority < out[i].Priority {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func cooldownKey(endpointID, ruleID string) string { return endpointID + "|" + ruleID }

func (c *Controller) inCooldown(endpointID, ruleID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	until, ok := c.cooldowns[cooldownKey(endpointID, ruleID)]
	return ok && time.Now().Before(until)
}

func (c *Controller) startCooldown(endpointID, ruleID string, period time.Duration) {
	if period <= 0 {
		return
	}
	c.mu.Lock()
	c.cooldowns[cooldownKey(endpointID, ruleID)] = time.Now().Add(period)
	c.mu.Unlock()
}

func (c *Controller) clearCooldown(endpointID, ruleID string) {
	c.mu.Lock()
	delete(c.cooldowns, cooldownKey(endpointID, ruleID))
	c.mu.Unlock()
}

// onRuleTriggered runs the full trigger→select→execute flow for one
// matched rule against one endpoint. The concurrent-failover cap is
// enforced with a buffered channel used as a counting semaphore; a rule
// that can't acquire a slot still records the event as Failed rather
// than silently dropping it, so operators see that capacity, not the
// endpoint, was the blocker.
func (c *Controller) onRuleTriggered(ctx context.Context, nestID nest.ID, rule failoverrule.Rule, source endpoint.Endpoint) failoverevent.Event {
	ev := failoverevent.Event{
		ID:               uuid.NewString(),
		Timestamp:        time.Now(),
		RuleID:           rule.ID,
		SourceEndpointID: source.ID,
		Conditions:       rule.TriggerConditions,
		Status:           failoverevent.StatusTriggered,
	}

	c.startCooldown(source.ID, rule.ID, rule.CooldownPeriod)

	select {
	case c.inFlight <- struct{}{}:
		defer func() { <-c.inFlight }()
	default:
		ev.Status = failoverevent.StatusFailed
		c.recordEvent(ctx, nestID, ev)
		c.log.WithField("rule", rule.ID).Warn("failover concurrency cap reached, dropping trigger")
		return ev
	}

	candidates := c.healthyCandidates(nestID, source.ID)
	target, ok := c.selector.Select(rule.FailoverStrategy.Selection, source, candidates)
	if !ok {
		ev.Status = failoverevent.StatusFailed
		c.recordEvent(ctx, nestID, ev)
		return ev
	}
	ev.TargetEndpointID = target.ID
	ev.Status = failoverevent.StatusInProgress
	c.recordEvent(ctx, nestID, ev)

	start := time.Now()
	err := c.strategies.Execute(ctx, rule.FailoverStrategy, source.ID, target.ID, c.readinessValidator())
	elapsed := time.Since(start)

	if err != nil {
		ev.Status = failoverevent.StatusFailed
		c.log.WithField("rule", rule.ID).WithField("source", source.ID).WithField("target", target.ID).WithField("err", err).Warn("failover strategy execution failed")
	} else {
		ev.Status = failoverevent.StatusCompleted
		ev.Duration = elapsed
		ev.HasDuration = true
	}
	c.updateEventFull(nestID, ev)

	if err == nil {
		c.startRecoveryMonitor(nestID, ev, rule)
	}
	return ev
}

func (c *Controller) readinessValidator() readinessValidator {
	return func(ctx context.Context, targetEndpointID string) bool {
		return c.probeHealthy(ctx, targetEndpointID)
	}
}

func (c *Controller) healthyCandidates(nestID nest.ID, excludeID string) []endpoint.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []endpoint.Endpoint
	for id, rec := range c.endpoints {
		if id == excludeID || rec.nestID != nestID {
			continue
		}
		if rec.ep.Status == endpoint.StatusHealthy {
			out = append(out, rec.ep)
		}
	}
	return out
}

func (c *Controller) recordEvent(ctx context.Context, nestID nest.ID, ev failoverevent.Event) {
	c.mu.Lock()
	if c.events[nestID] == nil {
		c.events[nestID] = make(map[string]failoverevent.Event)
	}
	c.events[nestID][ev.ID] = ev
	c.mu.Unlock()

	if err := c.store.AppendEvent(ctx, nestID, ev); err != nil {
		c.log.WithField("event", ev.ID).WithField("err", err).Warn("failed to persist failover event")
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Kind: EventFailoverTriggered, Payload: FailoverTriggeredEvent{NestID: nestID, Event: ev}})
	}
}

// updateEventFull replaces the in-memory and persisted record for an
// event wholesale, then publishes EventFailoverUpdated. It hands the
// Store a new snapshot through AppendEvent: MemoryStore keeps every
// snapshot, while StorageStore keys an event by its id and creation
// timestamp, so there each snapshot replaces the previous one for
// that event.
func (c *Controller) updateEventFull(nestID nest.ID, ev failoverevent.Event) {
	c.mu.Lock()
	if c.events[nestID] == nil {
		c.events[nestID] = make(map[string]failoverevent.Event)
	}
	c.events[nestID][ev.ID] = ev
	c.mu.Unlock()

	if err := c.store.AppendEvent(context.Background(), nestID, ev); err != nil {
		c.log.WithField("event", ev.ID).WithField("err", err).Warn("failed to persist failover event update")
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Kind: EventFailoverUpdated, Payload: FailoverUpdatedEvent{NestID: nestID, Event: ev}})
	}
}

// updateEvent applies mutate to the current in-memory snapshot of
// event id and persists the result, used by the recovery monitor which
// only has the event id and a point-in-time Event value to start from.
func (c *Controller) updateEvent(nestID nest.ID, id string, mutate func(*failoverevent.Event)) {
	c.mu.Lock()
	ev, ok := c.events[nestID][id]
	c.mu.Unlock()
	if !ok {
		return
	}
	mutate(&ev)
	c.updateEventFull(nestID, ev)
}

func (c *Controller) publishEventUpdate(nestID nest.ID, id string) {
	c.mu.RLock()
	ev, ok := c.events[nestID][id]
	c.mu.RUnlock()
	if !ok || c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Kind: EventFailoverUpdated, Payload: FailoverUpdatedEvent{NestID: nestID, Event: ev}})
}
