package monitoring

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/guardant/sentinel/internal/eventbus"
	"github.com/guardant/sentinel/internal/logger"
)

// EventEnvironmentUnreachable is published when every reference URL
// the guard probes is unreachable, meaning the failures the engine is
// about to see are more likely the daemon's own network than the
// monitored services themselves.
const EventEnvironmentUnreachable eventbus.Kind = "monitoring.environment-unreachable"

// EnvironmentUnreachableEvent is the EventEnvironmentUnreachable payload.
type EnvironmentUnreachableEvent struct {
	CheckedAt time.Time
	Refs      []string
}

// GuardConfig controls the connectivity guard.
type GuardConfig struct {
	ReferenceURLs  []string
	CheckInterval  time.Duration // default 30s
	Timeout        time.Duration // per-reference-probe timeout, default 5s
	MaxSuppression time.Duration // hard ceiling on alert suppression, default 5m
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		ReferenceURLs:  []string{"https://www.google.com/generate_204", "https://1.1.1.1"},
		CheckInterval:  30 * time.Second,
		Timeout:        5 * time.Second,
		MaxSuppression: 5 * time.Minute,
	}
}

// NetworkGuard opportunistically probes a small set of reference URLs
// so the engine can tell "the monitored fleet went down" apart from
// "this daemon lost its own network". Status-change alerts are
// suppressed for a bounded window while the environment looks
// unreachable; checkresult.Result writes are never suppressed.
type NetworkGuard struct {
	cfg GuardConfig
	bus *eventbus.Bus
	log *logger.Logger

	mu              sync.RWMutex
	suppressedUntil time.Time

	stop chan struct{}
}

func NewNetworkGuard(cfg GuardConfig, bus *eventbus.Bus, log *logger.Logger) *NetworkGuard {
	if log == nil {
		log = logger.NewDefault("monitoring.guard")
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxSuppression <= 0 {
		cfg.MaxSuppression = 5 * time.Minute
	}
	return &NetworkGuard{cfg: cfg, bus: bus, log: log}
}

func (g *NetworkGuard) Name() string { return "network-guard" }

func (g *NetworkGuard) Start(ctx context.Context) error {
	g.stop = make(chan struct{})
	go g.loop(ctx)
	return nil
}

func (g *NetworkGuard) Stop(context.Context) error {
	if g.stop != nil {
		close(g.stop)
	}
	return nil
}

func (g *NetworkGuard) loop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.checkOnce(ctx)
		}
	}
}

func (g *NetworkGuard) checkOnce(ctx context.Context) {
	if len(g.cfg.ReferenceURLs) == 0 {
		return
	}
	client := &http.Client{Timeout: g.cfg.Timeout}
	for _, url := range g.cfg.ReferenceURLs {
		reqCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := client.Do(req)
		cancel()
		if err == nil {
			resp.Body.Close()
			g.clearSuppression()
			return
		}
	}

	g.mu.Lock()
	g.suppressedUntil = time.Now().Add(g.cfg.MaxSuppression)
	until := g.suppressedUntil
	g.mu.Unlock()

	g.log.WithField("suppressed_until", until).Warn("all reference urls unreachable, suppressing alerts")
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Kind: EventEnvironmentUnreachable, Payload: EnvironmentUnreachableEvent{
			CheckedAt: time.Now(),
			Refs:      g.cfg.ReferenceURLs,
		}})
	}
}

func (g *NetworkGuard) clearSuppression() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suppressedUntil = time.Time{}
}

// Suppressed reports whether alert delivery should currently be
// suppressed. The suppression window is hard-bounded by
// cfg.MaxSuppression regardless of how long the environment stays
// unreachable, so a permanently broken guard can never silence alerts
// forever.
func (g *NetworkGuard) Suppressed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.suppressedUntil.IsZero() && time.Now().Before(g.suppressedUntil)
}
