package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the minimal structured-logging interface every package in this
// repository depends on instead of the standard library's log package.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a shared logger configuration be scoped to a
// named component ("orchestrator", "tool/story-generator", "bus", ...) so
// log lines can be filtered by subsystem without separate logger wiring at
// every call site.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Component scopes logger to component when logger implements
// ComponentAwareLogger, and returns it unchanged otherwise — the same
// fallback resilience.CircuitBreaker's construction uses so callers never
// need to type-switch themselves.
func Component(logger Logger, component string) Logger {
	if cal, ok := logger.(ComponentAwareLogger); ok {
		return cal.WithComponent(component)
	}
	return logger
}

// NoOpLogger discards everything. It is the zero-value default so that
// library code never nil-panics on an unconfigured logger.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                              {}
func (NoOpLogger) Error(string, map[string]interface{})                             {}
func (NoOpLogger) Warn(string, map[string]interface{})                              {}
func (NoOpLogger) Debug(string, map[string]interface{})                             {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// MetricsSink receives a count-1 observation for a named metric with
// low-cardinality labels. It exists so ProductionLogger can emit operation
// counters without importing the telemetry package directly, mirroring the
// weak-coupling pattern used between logging and metrics throughout this
// codebase.
type MetricsSink interface {
	Counter(name string, labels ...string)
}

// ProductionLogger is the real Logger implementation used by every service
// binary. It layers three concerns: human or JSON line output, optional
// trace-context enrichment, and optional metric emission once a
// MetricsSink has been attached.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer

	mu    sync.RWMutex
	sink  MetricsSink
	trace func(ctx context.Context) map[string]string
}

// LoggingConfig controls ProductionLogger's output shape.
type LoggingConfig struct {
	Level  string `json:"level" env:"STORYFORGE_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"STORYFORGE_LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"STORYFORGE_LOG_OUTPUT" default:"stdout"`
	Debug  bool   `json:"debug" env:"STORYFORGE_LOG_DEBUG" default:"false"`
}

// NewProductionLogger builds a Logger from LoggingConfig for the named
// service.
func NewProductionLogger(cfg LoggingConfig, serviceName string) *ProductionLogger {
	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	return &ProductionLogger{
		level:       strings.ToLower(cfg.Level),
		debug:       cfg.Debug || cfg.Level == "debug",
		serviceName: serviceName,
		format:      cfg.Format,
		output:      out,
	}
}

// EnableMetrics attaches a sink so every subsequent log event also emits a
// "storyforge.log.events" counter. Called once at process startup once
// telemetry has initialized.
func (p *ProductionLogger) EnableMetrics(sink MetricsSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// EnableTraceContext attaches a function that extracts correlation
// identifiers (request_id, trace_id, ...) from a context for log
// enrichment.
func (p *ProductionLogger) EnableTraceContext(fn func(ctx context.Context) map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trace = fn
}

// WithComponent returns a logger that tags every line with component.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

// GetComponent returns the component this logger tags its lines with.
func (p *ProductionLogger) GetComponent() string {
	return p.component
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}
func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	component := p.component
	if component == "" {
		component = "service"
	}
	timestamp := time.Now().Format(time.RFC3339)

	var baggage map[string]string
	if ctx != nil {
		p.mu.RLock()
		trace := p.trace
		p.mu.RUnlock()
		if trace != nil {
			baggage = trace(ctx)
		}
	}

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": component,
			"message":   msg,
		}
		for k, v := range baggage {
			entry["trace."+k] = v
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		traceInfo := ""
		if baggage["request_id"] != "" {
			traceInfo = fmt.Sprintf("[req=%s] ", baggage["request_id"])
		}
		var fieldStr strings.Builder
		for k, v := range fields {
			fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, v))
		}
		fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s%s\n",
			timestamp, level, p.serviceName, component, traceInfo, msg, fieldStr.String())
	}

	p.mu.RLock()
	sink := p.sink
	p.mu.RUnlock()
	if sink != nil {
		labels := []string{"level", level, "service", p.serviceName, "component", component}
		for k, v := range fields {
			switch k {
			case "operation", "status", "error_kind", "phase", "tool":
				labels = append(labels, k, fmt.Sprintf("%v", v))
			}
		}
		sink.Counter("storyforge.log.events", labels...)
	}
}
