// Package metrics defines the prometheus collectors shared across
// components, grounded on the teacher's own metrics package: one
// struct of pre-registered collectors passed by reference rather than
// packages reaching for the default registry directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this process exposes.
type Metrics struct {
	ProbeDuration   *prometheus.HistogramVec
	ProbeResult     *prometheus.CounterVec
	ServiceStatus   *prometheus.GaugeVec
	CircuitState    *prometheus.GaugeVec
	RateLimitDenied *prometheus.CounterVec
	PoolActive      *prometheus.GaugeVec
	PoolWaiting     *prometheus.GaugeVec
	DLQDepth        *prometheus.GaugeVec
	DLQPermanent    *prometheus.CounterVec
	FailoverEvents  *prometheus.CounterVec
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Subsystem: "monitoring",
			Name:      "probe_duration_seconds",
			Help:      "Probe execution duration by service type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		ProbeResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "monitoring",
			Name:      "probe_result_total",
			Help:      "Probe executions by type and resulting status.",
		}, []string{"type", "status"}),
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "monitoring",
			Name:      "service_status",
			Help:      "1 if the service's last observed status is up, else 0.",
		}, []string{"nest_id", "service_id"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "resilience",
			Name:      "circuit_state",
			Help:      "Circuit breaker state: 0=closed, 1=open, 2=half_open.",
		}, []string{"name"}),
		RateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "resilience",
			Name:      "rate_limit_denied_total",
			Help:      "Requests denied by the rate limiter.",
		}, []string{"scope", "endpoint"}),
		PoolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "resilience",
			Name:      "pool_active_connections",
			Help:      "Active connections per pool.",
		}, []string{"pool"}),
		PoolWaiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "resilience",
			Name:      "pool_waiting_acquirers",
			Help:      "Goroutines waiting to acquire a pooled connection.",
		}, []string{"pool"}),
		DLQDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "dlq",
			Name:      "depth",
			Help:      "Messages currently parked or scheduled for retry.",
		}, []string{"queue"}),
		DLQPermanent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "dlq",
			Name:      "permanent_failures_total",
			Help:      "Messages marked as a permanent failure, by error class.",
		}, []string{"error_class"}),
		FailoverEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "failover",
			Name:      "events_total",
			Help:      "Failover events by resulting status.",
		}, []string{"status"}),
	}

	for _, c := range []prometheus.Collector{
		m.ProbeDuration, m.ProbeResult, m.ServiceStatus, m.CircuitState,
		m.RateLimitDenied, m.PoolActive, m.PoolWaiting, m.DLQDepth,
		m.DLQPermanent, m.FailoverEvents,
	} {
		reg.MustRegister(c)
	}
	return m
}
