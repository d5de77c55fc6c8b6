package resilience

import (
	"time"

	"github.com/storyforge/pipeline/platform"
)

// ResilienceDependencies holds the optional collaborators a circuit breaker
// or retry executor can be wired with.
type ResilienceDependencies struct {
	Logger    platform.Logger
	Telemetry platform.Telemetry
}

// telemetryMetrics adapts platform.Telemetry to the MetricsCollector
// interface circuit_breaker.go expects, so every state change and outcome
// becomes a "storyforge.circuit_breaker.*" metric.
type telemetryMetrics struct {
	t platform.Telemetry
}

func newTelemetryMetrics(t platform.Telemetry) MetricsCollector {
	return &telemetryMetrics{t: t}
}

func (m *telemetryMetrics) RecordSuccess(name string) {
	m.t.RecordMetric("storyforge.circuit_breaker.calls", 1, map[string]string{"name": name, "status": "success"})
}
func (m *telemetryMetrics) RecordFailure(name string, errorType string) {
	m.t.RecordMetric("storyforge.circuit_breaker.calls", 1, map[string]string{"name": name, "status": "failure", "error_type": errorType})
}
func (m *telemetryMetrics) RecordStateChange(name string, from, to string) {
	m.t.RecordMetric("storyforge.circuit_breaker.state_changes", 1, map[string]string{"name": name, "from": from, "to": to})
}
func (m *telemetryMetrics) RecordRejection(name string) {
	m.t.RecordMetric("storyforge.circuit_breaker.rejections", 1, map[string]string{"name": name})
}

// CreateCircuitBreaker builds a circuit breaker wired to the caller's
// logger and telemetry, falling back to a production logger and no-op
// metrics when not supplied.
func CreateCircuitBreaker(name string, deps ResilienceDependencies) (*CircuitBreaker, error) {
	config := DefaultConfig()
	config.Name = name

	if deps.Logger != nil {
		config.Logger = platform.Component(deps.Logger, "framework/resilience")
	} else {
		config.Logger = platform.NewProductionLogger(platform.LoggingConfig{
			Level: "info", Format: "json", Output: "stdout",
		}, "circuit-breaker").WithComponent("framework/resilience")
	}

	if deps.Telemetry != nil {
		config.Metrics = newTelemetryMetrics(deps.Telemetry)
		config.Logger.Info("telemetry integration enabled for circuit breaker", map[string]interface{}{
			"operation": "telemetry_integration",
			"name":      name,
			"component": "circuit_breaker",
		})
	}

	config.Logger.Info("Creating circuit breaker", map[string]interface{}{
		"operation":        "circuit_breaker_creation",
		"name":             name,
		"error_threshold":  config.ErrorThreshold,
		"volume_threshold": config.VolumeThreshold,
	})

	return NewCircuitBreaker(config)
}

// CreateRetryConfig builds a RetryConfig from resilience settings and logs
// its construction through deps.Logger (or a production logger fallback),
// mirroring CreateCircuitBreaker's wiring contract for the retry side of
// resilience.
func CreateRetryConfig(cfg ResilienceSettings, deps ResilienceDependencies) *RetryConfig {
	logger := deps.Logger
	if logger == nil {
		logger = platform.NewProductionLogger(platform.LoggingConfig{
			Level: "info", Format: "json", Output: "stdout",
		}, "retry")
	}

	rc := &RetryConfig{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialBackoff,
		MaxDelay:      cfg.MaxBackoff,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
	logger.Info("creating retry config", map[string]interface{}{
		"operation":    "retry_config_creation",
		"max_attempts": rc.MaxAttempts,
	})
	return rc
}

// ResilienceSettings is the subset of platform.ResilienceConfig the retry
// factory needs, kept narrow so this package has no dependency on the
// concrete Config struct.
type ResilienceSettings struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// WithLogger is a dependency-injection option for ResilienceDependencies.
func WithLogger(logger platform.Logger) func(*ResilienceDependencies) {
	return func(d *ResilienceDependencies) { d.Logger = logger }
}

// WithTelemetry is a dependency-injection option for ResilienceDependencies.
func WithTelemetry(t platform.Telemetry) func(*ResilienceDependencies) {
	return func(d *ResilienceDependencies) { d.Telemetry = t }
}
