package platform

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting any storyforge service binary needs. Values
// are resolved in three layers, lowest priority first: struct defaults,
// environment variables (STORYFORGE_*), then functional options passed to
// NewConfig. Only the variables LoadFromEnv names are read; the env tags
// on the other fields (bus timeout, discovery TTLs and timeouts, phase and
// request timeouts, resilience settings, AI provider/model/region/timeout,
// among others) are not consulted.
type Config struct {
	ServiceName string `json:"service_name" env:"STORYFORGE_SERVICE_NAME"`
	Namespace   string `json:"namespace" env:"STORYFORGE_NAMESPACE" default:"default"`
	Port        int    `json:"port" env:"STORYFORGE_PORT" default:"8080"`

	Bus          BusConfig
	Discovery    DiscoveryConfig
	Orchestration OrchestrationConfig
	Resilience   ResilienceConfig
	Logging      LoggingConfig
	Telemetry    TelemetryConfig
	AI           AIConfig

	logger Logger
}

// BusConfig configures the pub/sub transport.
type BusConfig struct {
	Provider string        `json:"provider" env:"STORYFORGE_BUS_PROVIDER" default:"nats"`
	URL      string        `json:"url" env:"STORYFORGE_BUS_URL" default:"nats://localhost:4222"`
	Timeout  time.Duration `json:"timeout" env:"STORYFORGE_BUS_TIMEOUT" default:"30s"`
}

// DiscoveryConfig configures tool discovery and the capability cache.
type DiscoveryConfig struct {
	Provider          string        `json:"provider" env:"STORYFORGE_DISCOVERY_PROVIDER" default:"redis"`
	RedisURL          string        `json:"redis_url" env:"STORYFORGE_REDIS_URL,REDIS_URL" default:"redis://localhost:6379"`
	CacheTTL          time.Duration `json:"cache_ttl" env:"STORYFORGE_DISCOVERY_CACHE_TTL" default:"5m"`
	HealthInterval    time.Duration `json:"health_interval" env:"STORYFORGE_DISCOVERY_HEALTH_INTERVAL" default:"10s"`
	PreflightTimeout  time.Duration `json:"preflight_timeout" env:"STORYFORGE_DISCOVERY_TIMEOUT" default:"10s"`
}

// OrchestrationConfig holds the phase state machine's tunables. These are
// the R/N/C/B values spec.md §9 leaves as configuration, not protocol.
type OrchestrationConfig struct {
	BatchSize          int           `json:"batch_size" env:"STORYFORGE_ORCHESTRATION_BATCH_SIZE" default:"4"`
	Concurrency        int           `json:"concurrency" env:"STORYFORGE_ORCHESTRATION_CONCURRENCY" default:"4"`
	RetryBudget        int           `json:"retry_budget" env:"STORYFORGE_ORCHESTRATION_RETRY_BUDGET" default:"3"`
	NegotiationRounds  int           `json:"negotiation_rounds" env:"STORYFORGE_ORCHESTRATION_NEGOTIATION_ROUNDS" default:"3"`
	NodeCount          int           `json:"node_count" env:"STORYFORGE_ORCHESTRATION_NODE_COUNT" default:"16"`
	PhaseTimeout       time.Duration `json:"phase_timeout" env:"STORYFORGE_ORCHESTRATION_PHASE_TIMEOUT" default:"60s"`
	RequestTimeout     time.Duration `json:"request_timeout" env:"STORYFORGE_ORCHESTRATION_REQUEST_TIMEOUT" default:"5m"`
}

// ResilienceConfig configures the circuit breaker and retry wrapper applied
// to every outbound tool call.
type ResilienceConfig struct {
	CircuitBreakerEnabled   bool          `json:"circuit_breaker_enabled" env:"STORYFORGE_CIRCUIT_BREAKER_ENABLED" default:"true"`
	ErrorThreshold          float64       `json:"error_threshold" env:"STORYFORGE_CIRCUIT_BREAKER_ERROR_THRESHOLD" default:"0.5"`
	VolumeThreshold         int           `json:"volume_threshold" env:"STORYFORGE_CIRCUIT_BREAKER_VOLUME_THRESHOLD" default:"10"`
	OpenTimeout             time.Duration `json:"open_timeout" env:"STORYFORGE_CIRCUIT_BREAKER_OPEN_TIMEOUT" default:"30s"`
	InitialBackoff          time.Duration `json:"initial_backoff" env:"STORYFORGE_RETRY_INITIAL_BACKOFF" default:"200ms"`
	MaxBackoff              time.Duration `json:"max_backoff" env:"STORYFORGE_RETRY_MAX_BACKOFF" default:"10s"`
	MaxAttempts             int           `json:"max_attempts" env:"STORYFORGE_RETRY_MAX_ATTEMPTS" default:"3"`
}

// AIConfig configures the LLM provider boundary (out of scope beyond the
// interface itself; see ai package).
type AIConfig struct {
	Provider string        `json:"provider" env:"STORYFORGE_AI_PROVIDER" default:"openai"`
	Model    string        `json:"model" env:"STORYFORGE_AI_MODEL" default:"gpt-4o-mini"`
	APIKey   string        `json:"-" env:"STORYFORGE_AI_API_KEY,OPENAI_API_KEY"`
	Region   string        `json:"region" env:"STORYFORGE_AI_REGION,AWS_REGION" default:"us-east-1"`
	Timeout  time.Duration `json:"timeout" env:"STORYFORGE_AI_TIMEOUT" default:"30s"`
	Mock     bool          `json:"mock" env:"STORYFORGE_AI_MOCK" default:"false"`
}

// Option mutates a Config during construction. Options are applied after
// defaults and environment variables, so they always win.
type Option func(*Config) error

func WithServiceName(name string) Option {
	return func(c *Config) error { c.ServiceName = name; return nil }
}

func WithPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidConfiguration, port)
		}
		c.Port = port
		return nil
	}
}

func WithNamespace(ns string) Option {
	return func(c *Config) error { c.Namespace = ns; return nil }
}

func WithBusURL(url string) Option {
	return func(c *Config) error { c.Bus.URL = url; return nil }
}

func WithRedisURL(url string) Option {
	return func(c *Config) error { c.Discovery.RedisURL = url; return nil }
}

func WithConcurrency(c2 int) Option {
	return func(c *Config) error {
		if c2 <= 0 {
			return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfiguration)
		}
		c.Orchestration.Concurrency = c2
		return nil
	}
}

func WithBatchSize(b int) Option {
	return func(c *Config) error {
		if b <= 0 {
			return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfiguration)
		}
		c.Orchestration.BatchSize = b
		return nil
	}
}

func WithRetryBudget(r int) Option {
	return func(c *Config) error { c.Orchestration.RetryBudget = r; return nil }
}

func WithNegotiationRounds(n int) Option {
	return func(c *Config) error { c.Orchestration.NegotiationRounds = n; return nil }
}

func WithNodeCount(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("%w: node count must be positive", ErrInvalidConfiguration)
		}
		c.Orchestration.NodeCount = n
		return nil
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) error { c.Logging.Level = level; return nil }
}

func WithLogFormat(format string) Option {
	return func(c *Config) error { c.Logging.Format = format; return nil }
}

func WithTelemetry(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		if endpoint != "" {
			c.Telemetry.OTLPEndpoint = endpoint
		}
		return nil
	}
}

func WithAIProvider(provider, model string) Option {
	return func(c *Config) error { c.AI.Provider = provider; c.AI.Model = model; return nil }
}

func WithMockAI(mock bool) Option {
	return func(c *Config) error { c.AI.Mock = mock; return nil }
}

func WithLogger(l Logger) Option {
	return func(c *Config) error { c.logger = l; return nil }
}

// DefaultConfig returns a Config populated with the defaults documented on
// each field above.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "default",
		Port:      8080,
		Bus: BusConfig{
			Provider: "nats",
			URL:      "nats://localhost:4222",
			Timeout:  30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Provider:         "redis",
			RedisURL:         "redis://localhost:6379",
			CacheTTL:         5 * time.Minute,
			HealthInterval:   10 * time.Second,
			PreflightTimeout: 10 * time.Second,
		},
		Orchestration: OrchestrationConfig{
			BatchSize:         4,
			Concurrency:       4,
			RetryBudget:       3,
			NegotiationRounds: 3,
			NodeCount:         16,
			PhaseTimeout:      60 * time.Second,
			RequestTimeout:    5 * time.Minute,
		},
		Resilience: ResilienceConfig{
			CircuitBreakerEnabled: true,
			ErrorThreshold:        0.5,
			VolumeThreshold:       10,
			OpenTimeout:           30 * time.Second,
			InitialBackoff:        200 * time.Millisecond,
			MaxBackoff:            10 * time.Second,
			MaxAttempts:           3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			SampleRatio:  1.0,
		},
		AI: AIConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Region:   "us-east-1",
			Timeout:  30 * time.Second,
		},
	}
}

// LoadFromEnv overlays environment variables onto c. Functional options
// applied afterward by NewConfig still take precedence.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("STORYFORGE_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("STORYFORGE_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("STORYFORGE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		} else {
			return fmt.Errorf("%w: STORYFORGE_PORT=%q: %v", ErrInvalidConfiguration, v, err)
		}
	}
	if v := firstNonEmpty("STORYFORGE_BUS_URL"); v != "" {
		c.Bus.URL = v
	}
	if v := firstNonEmpty("STORYFORGE_REDIS_URL", "REDIS_URL"); v != "" {
		c.Discovery.RedisURL = v
	}
	if v := os.Getenv("STORYFORGE_ORCHESTRATION_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestration.BatchSize = n
		}
	}
	if v := os.Getenv("STORYFORGE_ORCHESTRATION_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestration.Concurrency = n
		}
	}
	if v := os.Getenv("STORYFORGE_ORCHESTRATION_RETRY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestration.RetryBudget = n
		}
	}
	if v := os.Getenv("STORYFORGE_ORCHESTRATION_NEGOTIATION_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestration.NegotiationRounds = n
		}
	}
	if v := os.Getenv("STORYFORGE_ORCHESTRATION_NODE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestration.NodeCount = n
		}
	}
	if v := os.Getenv("STORYFORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STORYFORGE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("STORYFORGE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("STORYFORGE_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := firstNonEmpty("STORYFORGE_AI_API_KEY", "OPENAI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("STORYFORGE_AI_MOCK"); v != "" {
		c.AI.Mock = strings.EqualFold(v, "true")
	}
	return nil
}

func firstNonEmpty(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// NewConfig builds a Config: defaults, then environment variables, then
// opts, in that order, and attaches a ProductionLogger if none was
// supplied via WithLogger.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.ServiceName)
	}
	return cfg, nil
}

// Logger returns the configured logger.
func (c *Config) Logger() Logger { return c.logger }
