package platform

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is the tracing/metrics facade every service and the
// orchestrator depend on. It is deliberately narrow: one way to start a
// span, one way to record a metric.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents one unit of traced work.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry discards spans and metrics. Used by tests and any
// component run with telemetry disabled.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

type noOpSpan struct{}

func (noOpSpan) End()                               {}
func (noOpSpan) SetAttribute(string, interface{})   {}
func (noOpSpan) RecordError(error)                  {}

// TelemetryConfig configures the OpenTelemetry provider.
type TelemetryConfig struct {
	Enabled        bool   `json:"enabled" env:"STORYFORGE_TELEMETRY_ENABLED" default:"false"`
	OTLPEndpoint   string `json:"otlp_endpoint" env:"STORYFORGE_OTLP_ENDPOINT" default:"localhost:4317"`
	UseStdout      bool   `json:"use_stdout" env:"STORYFORGE_TELEMETRY_STDOUT" default:"false"`
	SampleRatio    float64 `json:"sample_ratio" env:"STORYFORGE_TRACE_SAMPLE_RATIO" default:"1.0"`
}

// OTelProvider implements Telemetry with a real OpenTelemetry SDK pipeline:
// gRPC OTLP export in production, a stdout exporter for local development
// (selected by TelemetryConfig.UseStdout), batched spans, and a counter
// instrument cache keyed by metric name so repeated RecordMetric calls
// reuse one instrument instead of re-registering it.
type OTelProvider struct {
	tracer        trace.Tracer
	meter         metric.Meter
	traceProvider *sdktrace.TracerProvider

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	shutdownFn func(context.Context) error
}

// NewOTelProvider wires a tracer/meter pair for serviceName. When
// cfg.Enabled is false it returns NoOpTelemetry instead, so callers never
// need a nil-check.
func NewOTelProvider(ctx context.Context, cfg TelemetryConfig, serviceName string) (Telemetry, func(context.Context) error, error) {
	if !cfg.Enabled {
		return NoOpTelemetry{}, func(context.Context) error { return nil }, nil
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.UseStdout {
		spanExporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		spanExporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1.0
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
	otel.SetTracerProvider(tp)

	meter := otel.GetMeterProvider().Meter(serviceName)

	p := &OTelProvider{
		tracer:        tp.Tracer(serviceName),
		meter:         meter,
		traceProvider: tp,
		counters:      make(map[string]metric.Float64Counter),
	}
	shutdown := func(shutdownCtx context.Context) error {
		return tp.Shutdown(shutdownCtx)
	}
	return p, shutdown, nil
}

func (p *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	spanCtx, span := p.tracer.Start(ctx, name)
	return spanCtx, &otelSpan{span: span}
}

func (p *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		var err error
		counter, err = p.meter.Float64Counter(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.counters[name] = counter
	}
	p.mu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }
func (s *otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", value)))
}
func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

// counterSink adapts a Telemetry into the platform.MetricsSink interface
// ProductionLogger expects, so every log event also becomes a metric
// observation once telemetry is live.
type counterSink struct {
	t Telemetry
}

func NewCounterSink(t Telemetry) MetricsSink { return &counterSink{t: t} }

func (c *counterSink) Counter(name string, labels ...string) {
	m := make(map[string]string, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		m[labels[i]] = labels[i+1]
	}
	c.t.RecordMetric(name, 1.0, m)
}
