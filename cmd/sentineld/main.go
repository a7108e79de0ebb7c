// Command sentineld is the sentinel monitoring daemon: it wires the
// service registry, monitoring engine, network guard, failover
// controller, tenant storage adapter and dead-letter queue into one
// running process and exposes a Prometheus /metrics endpoint for
// scraping plus a /healthz endpoint. It owns nothing else: every other
// surface (HTTP
// control-plane, admin UI, schema migration) is out of scope.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/guardant/sentinel/internal/config"
	"github.com/guardant/sentinel/internal/dlq"
	"github.com/guardant/sentinel/internal/domain/dlqmessage"
	"github.com/guardant/sentinel/internal/domain/servicedef"
	"github.com/guardant/sentinel/internal/eventbus"
	"github.com/guardant/sentinel/internal/failover"
	"github.com/guardant/sentinel/internal/logger"
	"github.com/guardant/sentinel/internal/metrics"
	"github.com/guardant/sentinel/internal/monitoring"
	"github.com/guardant/sentinel/internal/monitoring/probes"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
	"github.com/guardant/sentinel/internal/storage"
	"github.com/guardant/sentinel/internal/system"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (overrides CONFIG_FILE)")
	flag.Parse()

	if trimmed := *configPath; trimmed != "" {
		os.Setenv("CONFIG_FILE", trimmed)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg := cfg.NewLogger()
	bus := config.NewBus()
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	storageBackend, closeBackend, err := buildStorageBackend(cfg)
	if err != nil {
		lg.WithField("err", err).Fatal("build storage backend")
	}
	storageAdapter := storage.New(cfg.StorageAdapter(), storageBackend, bus, logger.NewDefault("storage"))

	pool, err := buildConnPool(cfg)
	if err != nil {
		lg.WithField("err", err).Fatal("build connection pool")
	}
	limiter := resilience.NewRateLimiter(cfg.RateLimiter(), resilience.NewMemoryStorage())

	dlqSink := buildDLQSink(cfg)
	deadLetters := dlq.New(cfg.DeadLetterQueue(), bus, logger.NewDefault("dlq"), dlqSink, webhookRedeliver(lg))

	svcRegistry := registry.New(cfg.ServiceRegistry(), registry.NewStorageStore(storageAdapter), bus, logger.NewDefault("registry"))

	proberMap := buildProbers(lg)

	engine := monitoring.New(cfg.Monitoring(), svcRegistry, proberMap, storageAdapter, bus, logger.NewDefault("monitoring"))
	guard := monitoring.NewNetworkGuard(cfg.NetworkGuard(), bus, logger.NewDefault("monitoring.guard"))

	redirector := failover.NoopRedirector{Log: logger.NewDefault("failover.redirect")}
	controller := failover.New(cfg.FailoverController(), failover.NewStorageStore(storageAdapter), bus, redirector, logger.NewDefault("failover"))
	controller.SetConnPool(pool)
	controller.SetRateLimiter(limiter)

	bridgeEventsToMetrics(bus, met)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := system.AggregateHealth([]system.HealthReporter{controller})
		if !h.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "%+v\n", h)
	})
	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services := []system.Service{storageAdapter, deadLetters, engine, guard, controller}
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			lg.WithField("service", svc.Name()).WithField("err", err).Fatal("start service")
		}
	}

	descriptors := system.CollectDescriptors([]system.DescriptorProvider{controller})
	for _, d := range descriptors {
		lg.WithField("domain", d.Domain).WithField("layer", d.Layer).Info("service descriptor registered")
	}

	go func() {
		lg.WithField("addr", srv.Addr).Info("sentineld listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.WithField("err", err).Error("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	lg.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(shutdownCtx); err != nil {
			lg.WithField("service", services[i].Name()).WithField("err", err).Warn("stop service")
		}
	}
	if closeBackend != nil {
		closeBackend()
	}
}

func buildStorageBackend(cfg *config.Config) (storage.Backend, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := sql.Open("pgx", cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return storage.NewPostgresBackend(sqlx.NewDb(db, "pgx")), func() { db.Close() }, nil
	default:
		return storage.NewMemoryBackend(), nil, nil
	}
}

func buildConnPool(cfg *config.Config) (*resilience.ConnPool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return resilience.NewConnPool(ctx, httpClientFactory{}, cfg.ConnectionPool())
}

// httpClientFactory backs the shared resilience.ConnPool with plain
// *http.Client values: cheap to create, nothing to validate beyond
// liveness of the process itself, nothing to tear down on destroy.
type httpClientFactory struct{}

func (httpClientFactory) Create(context.Context) (any, error) {
	return &http.Client{Timeout: 10 * time.Second}, nil
}
func (httpClientFactory) Validate(conn any) bool {
	_, ok := conn.(*http.Client)
	return ok
}
func (httpClientFactory) Destroy(any) {}

func buildDLQSink(cfg *config.Config) dlq.PermanentFailureSink {
	if cfg.DLQ.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.DLQ.RedisAddr})
	return dlq.NewRedisPermanentFailureSink(client, "sentinel:dlq:permanent", cfg.DLQ.MessageTTL)
}

// webhookRedeliver posts a retried message's content to the
// URL carried in its webhook-url header. There is no message-broker
// client in this process to redeliver onto, so a webhook POST is the
// only redelivery transport available; absent a header it just logs.
func webhookRedeliver(lg *logger.Logger) func(ctx context.Context, msg dlqmessage.Message) error {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, msg dlqmessage.Message) error {
		url := msg.Headers["webhook-url"]
		if url == "" {
			lg.WithField("message", msg.ID).Warn("redelivering with no webhook-url header, dropping")
			return nil
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(msg.Content))
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
}

func buildProbers(lg *logger.Logger) map[servicedef.Type]probes.Prober {
	m := map[servicedef.Type]probes.Prober{
		servicedef.TypeWeb:       probes.WebProbe{},
		servicedef.TypeTCP:       probes.NewTCPProbe(),
		servicedef.TypePort:      probes.NewPortProbe(),
		servicedef.TypeDNS:       probes.DNSProbe{},
		servicedef.TypeSSL:       probes.SSLProbe{},
		servicedef.TypePing:      probes.PingProbe{},
		servicedef.TypeKeyword:   probes.KeywordProbe{},
		servicedef.TypeHeartbeat: probes.HeartbeatProbe{},
		servicedef.TypeGitHub:    probes.GitHubProbe{},
		servicedef.TypeCustom:    probes.NewCustomProbe(),
		servicedef.TypeUptimeAPI: probes.NewUptimeAPIProbe(),
		servicedef.TypeAWSHealth:   probes.NewAWSHealthProbe(),
		servicedef.TypeAzureHealth: probes.NewAzureHealthProbe(),
		servicedef.TypeGCPHealth:   probes.NewGCPHealthProbe(),
	}

	m[servicedef.TypeDocker] = probes.NewDockerProbe(probes.NewDockerLister(""))

	if clientset, err := buildKubernetesClientset(); err == nil {
		m[servicedef.TypeKubernetes] = probes.NewKubernetesProbe(probes.NewKubernetesLister(clientset))
	} else {
		lg.WithField("err", err).Warn("no usable kubernetes credentials, disabling the kubernetes probe type")
	}

	return m
}

// buildKubernetesClientset tries in-cluster config first (the process
// running as a pod), then falls back to the default kubeconfig path.
// Returning an error here just means the kubernetes probe type is
// skipped, not that the daemon fails to start.
func buildKubernetesClientset() (kubernetes.Interface, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return kubernetes.NewForConfig(cfg)
	}
	kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
	restCfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(restCfg)
}

// bridgeEventsToMetrics subscribes to every subsystem's event kinds and
// updates the shared collectors, since none of those subsystems import
// the metrics package directly — publication stays decoupled from
// observability the same way it stays decoupled from every other
// consumer.
func bridgeEventsToMetrics(bus *eventbus.Bus, met *metrics.Metrics) {
	bus.Subscribe(monitoring.EventCheckResult, func(e eventbus.Event) {
		payload, ok := e.Payload.(monitoring.CheckResultEvent)
		if !ok {
			return
		}
		result := payload.Result
		up := 0.0
		if result.Status == servicedef.StatusUp {
			up = 1
		}
		met.ServiceStatus.WithLabelValues(result.NestID, result.ServiceID).Set(up)
		met.ProbeResult.WithLabelValues("service", string(result.Status)).Inc()
		met.ProbeDuration.WithLabelValues("service").Observe(result.CheckDuration.Seconds())
	})

	bus.Subscribe(failover.EventFailoverTriggered, func(e eventbus.Event) {
		if payload, ok := e.Payload.(failover.FailoverTriggeredEvent); ok {
			met.FailoverEvents.WithLabelValues(string(payload.Event.Status)).Inc()
		}
	})
	bus.Subscribe(failover.EventFailoverUpdated, func(e eventbus.Event) {
		if payload, ok := e.Payload.(failover.FailoverUpdatedEvent); ok {
			met.FailoverEvents.WithLabelValues(string(payload.Event.Status)).Inc()
		}
	})
}
