// Package config loads sentineld's configuration from a YAML file (if
// present) and environment variables, env taking precedence, following
// the same envdecode/godotenv layering the rest of the ecosystem uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/guardant/sentinel/internal/dlq"
	"github.com/guardant/sentinel/internal/eventbus"
	"github.com/guardant/sentinel/internal/failover"
	"github.com/guardant/sentinel/internal/logger"
	"github.com/guardant/sentinel/internal/monitoring"
	"github.com/guardant/sentinel/internal/registry"
	"github.com/guardant/sentinel/internal/resilience"
	"github.com/guardant/sentinel/internal/storage"
)

// ServerConfig controls the HTTP surface sentineld exposes for health
// checks and metrics scraping.
type ServerConfig struct {
	Host        string `yaml:"host" env:"SERVER_HOST"`
	Port        int    `yaml:"port" env:"SERVER_PORT"`
	MetricsPath string `yaml:"metrics_path" env:"SERVER_METRICS_PATH"`
}

// EngineConfig controls the monitoring engine.
type EngineConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent" env:"ENGINE_MAX_CONCURRENT"`
}

func (e EngineConfig) toMonitoring() monitoring.Config {
	return monitoring.Config{MaxConcurrent: e.MaxConcurrent}
}

// GuardConfig controls the monitoring network-connectivity guard.
type GuardConfig struct {
	ReferenceURLs  []string      `yaml:"reference_urls" env:"GUARD_REFERENCE_URLS"`
	CheckInterval  time.Duration `yaml:"check_interval" env:"GUARD_CHECK_INTERVAL"`
	Timeout        time.Duration `yaml:"timeout" env:"GUARD_TIMEOUT"`
	MaxSuppression time.Duration `yaml:"max_suppression" env:"GUARD_MAX_SUPPRESSION"`
}

func (g GuardConfig) toMonitoring() monitoring.GuardConfig {
	return monitoring.GuardConfig{
		ReferenceURLs:  g.ReferenceURLs,
		CheckInterval:  g.CheckInterval,
		Timeout:        g.Timeout,
		MaxSuppression: g.MaxSuppression,
	}
}

// FailoverConfig controls the failover controller, its health sampler
// and its rule detector.
type FailoverConfig struct {
	HealthInterval     time.Duration `yaml:"health_interval" env:"FAILOVER_HEALTH_INTERVAL"`
	HealthTimeout       time.Duration `yaml:"health_timeout" env:"FAILOVER_HEALTH_TIMEOUT"`
	DetectionInterval  time.Duration `yaml:"detection_interval" env:"FAILOVER_DETECTION_INTERVAL"`
	MaxConcurrent      int           `yaml:"max_concurrent" env:"FAILOVER_MAX_CONCURRENT"`
	WindowSpan         time.Duration `yaml:"window_span" env:"FAILOVER_WINDOW_SPAN"`
	BreakerThreshold   int           `yaml:"breaker_threshold" env:"FAILOVER_BREAKER_THRESHOLD"`
	BreakerWindow      time.Duration `yaml:"breaker_window" env:"FAILOVER_BREAKER_WINDOW"`
	BreakerCooldown    time.Duration `yaml:"breaker_cooldown" env:"FAILOVER_BREAKER_COOLDOWN"`
}

func (f FailoverConfig) toFailover() failover.Config {
	cfg := failover.DefaultConfig()
	if f.HealthInterval > 0 {
		cfg.Health.Interval = f.HealthInterval
	}
	if f.HealthTimeout > 0 {
		cfg.Health.Timeout = f.HealthTimeout
	}
	if f.DetectionInterval > 0 {
		cfg.Detection.Interval = f.DetectionInterval
	}
	if f.MaxConcurrent > 0 {
		cfg.MaxConcurrent = f.MaxConcurrent
	}
	if f.WindowSpan > 0 {
		cfg.DefaultWindowSpan = f.WindowSpan
	}
	if f.BreakerThreshold > 0 {
		cfg.Breaker.FailureThreshold = f.BreakerThreshold
	}
	if f.BreakerWindow > 0 {
		cfg.Breaker.Window = f.BreakerWindow
	}
	if f.BreakerCooldown > 0 {
		cfg.Breaker.Cooldown = f.BreakerCooldown
	}
	return cfg
}

// StorageConfig controls the tenant storage adapter and its backend.
type StorageConfig struct {
	Backend              string `yaml:"backend" env:"STORAGE_BACKEND"` // "memory" or "postgres"
	PostgresDSN          string `yaml:"postgres_dsn" env:"STORAGE_POSTGRES_DSN"`
	BatchSize            int    `yaml:"batch_size" env:"STORAGE_BATCH_SIZE"`
	BatchThrottle        time.Duration `yaml:"batch_throttle" env:"STORAGE_BATCH_THROTTLE"`
	CompressionThreshold int    `yaml:"compression_threshold" env:"STORAGE_COMPRESSION_THRESHOLD"`
	EncryptionMasterKey  string `yaml:"-" env:"STORAGE_ENCRYPTION_MASTER_KEY"`
}

func (s StorageConfig) toStorage() storage.Config {
	cfg := storage.DefaultConfig()
	if s.BatchSize > 0 {
		cfg.BatchSize = s.BatchSize
	}
	if s.BatchThrottle > 0 {
		cfg.BatchThrottle = s.BatchThrottle
	}
	if s.CompressionThreshold > 0 {
		cfg.CompressionThreshold = s.CompressionThreshold
	}
	cfg.EncryptionMasterKey = []byte(s.EncryptionMasterKey)
	return cfg
}

// DLQConfig controls the dead-letter queue.
type DLQConfig struct {
	MaxRetries          int           `yaml:"max_retries" env:"DLQ_MAX_RETRIES"`
	BaseDelay           time.Duration `yaml:"base_delay" env:"DLQ_BASE_DELAY"`
	MaxDelay            time.Duration `yaml:"max_delay" env:"DLQ_MAX_DELAY"`
	Factor              float64       `yaml:"factor" env:"DLQ_FACTOR"`
	MessageTTL          time.Duration `yaml:"message_ttl" env:"DLQ_MESSAGE_TTL"`
	SaturationThreshold int           `yaml:"saturation_threshold" env:"DLQ_SATURATION_THRESHOLD"`
	RedisAddr           string        `yaml:"redis_addr" env:"DLQ_REDIS_ADDR"` // optional permanent-failure sink
}

func (d DLQConfig) toDLQ() dlq.Config {
	cfg := dlq.DefaultConfig()
	if d.MaxRetries > 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if d.BaseDelay > 0 {
		cfg.BaseDelay = d.BaseDelay
	}
	if d.MaxDelay > 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	if d.Factor > 0 {
		cfg.Factor = d.Factor
	}
	if d.MessageTTL > 0 {
		cfg.MessageTTL = d.MessageTTL
	}
	if d.SaturationThreshold > 0 {
		cfg.SaturationThreshold = d.SaturationThreshold
	}
	return cfg
}

// ResilienceConfig controls the shared connection pool and rate limiter
// sentineld wires up for outbound calls.
type ResilienceConfig struct {
	PoolMin             int           `yaml:"pool_min" env:"RESILIENCE_POOL_MIN"`
	PoolMax             int           `yaml:"pool_max" env:"RESILIENCE_POOL_MAX"`
	PoolAcquireTimeout  time.Duration `yaml:"pool_acquire_timeout" env:"RESILIENCE_POOL_ACQUIRE_TIMEOUT"`
	LimiterAlgorithm    string        `yaml:"limiter_algorithm" env:"RESILIENCE_LIMITER_ALGORITHM"`
	LimiterMaxRequests  int           `yaml:"limiter_max_requests" env:"RESILIENCE_LIMITER_MAX_REQUESTS"`
	LimiterWindow       time.Duration `yaml:"limiter_window" env:"RESILIENCE_LIMITER_WINDOW"`
	LimiterFailOpen     bool          `yaml:"limiter_fail_open" env:"RESILIENCE_LIMITER_FAIL_OPEN"`
}

func (r ResilienceConfig) toPool() resilience.PoolConfig {
	cfg := resilience.DefaultPoolConfig()
	if r.PoolMin > 0 {
		cfg.Min = r.PoolMin
	}
	if r.PoolMax > 0 {
		cfg.Max = r.PoolMax
	}
	if r.PoolAcquireTimeout > 0 {
		cfg.AcquireTimeout = r.PoolAcquireTimeout
	}
	return cfg
}

func (r ResilienceConfig) toLimiter() resilience.LimiterConfig {
	cfg := resilience.DefaultLimiterConfig()
	if r.LimiterAlgorithm != "" {
		cfg.Algorithm = resilience.Algorithm(r.LimiterAlgorithm)
	}
	if r.LimiterMaxRequests > 0 {
		cfg.MaxRequests = r.LimiterMaxRequests
	}
	if r.LimiterWindow > 0 {
		cfg.Window = r.LimiterWindow
	}
	cfg.FailOpen = r.LimiterFailOpen
	return cfg
}

// RegistryConfig controls the service-definition registry.
type RegistryConfig struct {
	MaxPerTenant int `yaml:"max_per_tenant" env:"REGISTRY_MAX_PER_TENANT"`
}

func (r RegistryConfig) toRegistry() registry.Config {
	cfg := registry.DefaultConfig()
	if r.MaxPerTenant > 0 {
		cfg.MaxPerTenant = r.MaxPerTenant
	}
	return cfg
}

// Config is sentineld's top-level configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    logger.Config    `yaml:"logging"`
	Engine     EngineConfig     `yaml:"engine"`
	Guard      GuardConfig      `yaml:"guard"`
	Failover   FailoverConfig   `yaml:"failover"`
	Storage    StorageConfig    `yaml:"storage"`
	DLQ        DLQConfig        `yaml:"dlq"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Registry   RegistryConfig   `yaml:"registry"`
}

// New returns a Config populated with defaults, mirroring every
// subsystem's own DefaultConfig/New so a fresh process runs sanely
// without any environment configured.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 9090, MetricsPath: "/metrics"},
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Engine: EngineConfig{MaxConcurrent: 32},
		Guard: GuardConfig{
			ReferenceURLs:  []string{"https://www.google.com/generate_204", "https://1.1.1.1"},
			CheckInterval:  30 * time.Second,
			Timeout:        5 * time.Second,
			MaxSuppression: 5 * time.Minute,
		},
		Failover: FailoverConfig{
			HealthInterval:    15 * time.Second,
			HealthTimeout:     5 * time.Second,
			DetectionInterval: 10 * time.Second,
			MaxConcurrent:     10,
		},
		Storage: StorageConfig{Backend: "memory", BatchSize: 25, BatchThrottle: 10 * time.Millisecond, CompressionThreshold: 4096},
		DLQ: DLQConfig{
			MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute, Factor: 2,
			MessageTTL: time.Hour, SaturationThreshold: 50,
		},
		Resilience: ResilienceConfig{
			PoolMin: 1, PoolMax: 10, PoolAcquireTimeout: 5 * time.Second,
			LimiterAlgorithm: "fixed_window", LimiterMaxRequests: 100, LimiterWindow: time.Minute, LimiterFailOpen: true,
		},
		Registry: RegistryConfig{MaxPerTenant: 500},
	}
}

// Load loads configuration from CONFIG_FILE (or configs/config.yaml if
// present) and then layers environment variables on top, env values
// winning over file values, matching the daemon's ambient config
// layering convention.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil && !strings.Contains(err.Error(), "no target fields") {
		return nil, fmt.Errorf("decode env: %w", err)
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Monitoring converts the decoded config into the engine's own Config.
func (c *Config) Monitoring() monitoring.Config { return c.Engine.toMonitoring() }

// NetworkGuard converts the decoded config into the guard's own Config.
func (c *Config) NetworkGuard() monitoring.GuardConfig { return c.Guard.toMonitoring() }

// FailoverController converts the decoded config into the failover
// controller's own Config.
func (c *Config) FailoverController() failover.Config { return c.Failover.toFailover() }

// StorageAdapter converts the decoded config into the storage adapter's
// own Config.
func (c *Config) StorageAdapter() storage.Config { return c.Storage.toStorage() }

// DeadLetterQueue converts the decoded config into the DLQ's own Config.
func (c *Config) DeadLetterQueue() dlq.Config { return c.DLQ.toDLQ() }

// ConnectionPool converts the decoded config into resilience.PoolConfig.
func (c *Config) ConnectionPool() resilience.PoolConfig { return c.Resilience.toPool() }

// RateLimiter converts the decoded config into resilience.LimiterConfig.
func (c *Config) RateLimiter() resilience.LimiterConfig { return c.Resilience.toLimiter() }

// ServiceRegistry converts the decoded config into the registry's own
// Config.
func (c *Config) ServiceRegistry() registry.Config { return c.Registry.toRegistry() }

// NewLogger builds the process logger from the decoded config.
func (c *Config) NewLogger() *logger.Logger { return logger.New(c.Logging) }

// NewBus is a small convenience so cmd/sentineld wires the event bus
// the same way it wires every other subsystem: through config.
func NewBus() *eventbus.Bus { return eventbus.New() }
