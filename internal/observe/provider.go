package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Telemetry owns the OpenTelemetry SDK providers for the process. Setup
// registers them as the globals that [Meter] and [StartSpan] resolve
// through, and Shutdown flushes them on the way out.
type Telemetry struct {
	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// Option adjusts telemetry setup.
type Option func(*setupOptions)

type setupOptions struct {
	version      string
	spanExporter sdktrace.SpanExporter
}

// WithServiceVersion stamps the given version onto the telemetry resource.
func WithServiceVersion(v string) Option {
	return func(o *setupOptions) { o.version = v }
}

// WithSpanExporter exports finished spans through exp. Without it spans are
// still recorded, so request counters and latencies stay accurate, but
// nothing leaves the process. An OTLP exporter is the usual choice when a
// collector is running.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *setupOptions) { o.spanExporter = exp }
}

// Setup installs the global OpenTelemetry providers for the named service.
// Metrics flow through a Prometheus reader and surface on the /metrics
// listener the server mounts, so a scrape needs no collector in between.
// Call Shutdown on the returned handle once the server has drained.
func Setup(serviceName string, opts ...Option) (*Telemetry, error) {
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(o.version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus reader: %w", err)
	}

	t := &Telemetry{
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		),
	}

	tracerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if o.spanExporter != nil {
		tracerOpts = append(tracerOpts, sdktrace.WithBatcher(o.spanExporter))
	}
	t.traces = sdktrace.NewTracerProvider(tracerOpts...)

	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t, nil
}

// Shutdown flushes pending telemetry and closes both providers. Safe to call
// with a short deadline; whatever cannot be flushed in time is dropped.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meters.Shutdown(ctx), t.traces.Shutdown(ctx))
}
