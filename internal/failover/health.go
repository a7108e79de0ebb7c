package failover

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guardant/sentinel/internal/domain/endpoint"
	"github.com/guardant/sentinel/internal/eventbus"
	"github.com/guardant/sentinel/internal/logger"
	"github.com/guardant/sentinel/internal/resilience"
)

// EventEndpointStatusChanged is published whenever an endpoint's
// derived health status moves.
const EventEndpointStatusChanged eventbus.Kind = "failover.endpoint-status-changed"

// EndpointStatusChangedEvent is the EventEndpointStatusChanged payload.
type EndpointStatusChangedEvent struct {
	Endpoint endpoint.Endpoint
	Previous endpoint.Status
}

// HealthConfig controls the health sampler.
type HealthConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{Interval: 15 * time.Second, Timeout: 5 * time.Second}
}

// HealthSampler GET-probes every non-maintenance endpoint at
// HealthCheckPath on every tick and derives HEALTHY/DEGRADED/UNHEALTHY
// from the probe outcome plus the endpoint's rolling metrics window.
// Every endpoint is sampled in parallel: health sampling has no
// cross-endpoint ordering requirement, unlike rule detection.
type HealthSampler struct {
	cfg        HealthConfig
	controller *Controller
	log        *logger.Logger

	stop chan struct{}
}

func newHealthSampler(cfg HealthConfig, c *Controller, log *logger.Logger) *HealthSampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("failover.health")
	}
	return &HealthSampler{cfg: cfg, controller: c, log: log}
}

func (h *HealthSampler) Start(ctx context.Context) error {
	h.stop = make(chan struct{})
	go h.loop(ctx)
	return nil
}

func (h *HealthSampler) Stop(context.Context) error {
	if h.stop != nil {
		close(h.stop)
	}
	return nil
}

func (h *HealthSampler) loop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sampleAll(ctx)
		}
	}
}

func (h *HealthSampler) sampleAll(ctx context.Context) {
	recs := h.controller.listAllEndpoints()
	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range recs {
		rec := rec
		if rec.ep.Status == endpoint.StatusMaintenance {
			continue
		}
		g.Go(func() error {
			h.sampleOne(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()
}

func (h *HealthSampler) sampleOne(ctx context.Context, rec endpointRecord) {
	if limiter := h.controller.limiter; limiter != nil {
		key := resilience.Key{Scope: "failover-probe", Identity: rec.ep.ID, Endpoint: rec.ep.HealthCheckPath}
		if d := limiter.Allow(ctx, key); !d.Allowed {
			return
		}
	}

	window := h.controller.windowFor(rec.ep.ID)
	priorAvg, hadPriorAvg := window.AvgHealthyResponseTime()

	breaker := h.controller.breakerFor(rec.ep.ID)
	start := time.Now()
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return h.probe(ctx, rec.ep)
	})
	elapsed := time.Since(start)
	success := err == nil

	window.Add(Sample{At: time.Now(), Success: success, ResponseTime: elapsed})

	status := deriveEndpointStatus(success, elapsed, priorAvg, hadPriorAvg)
	h.controller.setEndpointStatus(ctx, rec.nestID, rec.ep.ID, status)
}

// probe issues the single GET that both the health sampler and
// recovery monitor use to decide an endpoint's live health. A non-nil
// error means the endpoint failed the probe; resilience.ErrServerError
// classifies a >=400 response for anything composing around it (e.g.
// the circuit breaker) the same way the monitoring probes do.
func (h *HealthSampler) probe(ctx context.Context, ep endpoint.Endpoint) error {
	reqCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	client, release, err := h.acquireClient(ctx)
	if err != nil {
		return err
	}
	defer release()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ep.URL+ep.HealthCheckPath, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return resilience.ErrServerError
	}
	return nil
}

// acquireClient borrows an *http.Client from the controller's shared
// pool when one is wired in, falling back to a one-off client so
// probing still works before main.go injects the shared pool (tests,
// for instance, never set one).
func (h *HealthSampler) acquireClient(ctx context.Context) (*http.Client, func(), error) {
	pool := h.controller.pool
	if pool == nil {
		return &http.Client{Timeout: h.cfg.Timeout, Transport: &http.Transport{TLSClientConfig: &tls.Config{}}}, func() {}, nil
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	client := conn.(*http.Client)
	return client, func() { pool.Release(conn) }, nil
}

// deriveEndpointStatus implements the §4.F status-derivation table:
// UNHEALTHY on failure; DEGRADED when successful but the response time
// exceeds both 2x the prior rolling healthy average and 1s; HEALTHY
// otherwise.
func deriveEndpointStatus(success bool, elapsed, priorAvg time.Duration, hadPriorAvg bool) endpoint.Status {
	if !success {
		return endpoint.StatusUnhealthy
	}
	if hadPriorAvg && priorAvg > 0 && elapsed > 2*priorAvg && elapsed > time.Second {
		return endpoint.StatusDegraded
	}
	return endpoint.StatusHealthy
}
