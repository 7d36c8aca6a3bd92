// Package observe provides application-wide observability primitives for
// relai: OpenTelemetry metrics, tracing helpers, and structured-logging
// integration.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [Setup] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all relai metrics.
const meterName = "github.com/patchwell/relai"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CompletionDuration tracks LLM completion latency per provider.
	CompletionDuration metric.Float64Histogram

	// ToolExecutionDuration tracks agent tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// RetrievalDuration tracks retriever query latency.
	RetrievalDuration metric.Float64Histogram

	// AgentIterations tracks how many loop iterations each agent run took.
	AgentIterations metric.Int64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("operation", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("operation", ...)
	ProviderErrors metric.Int64Counter

	// Fallbacks counts how often the router advanced past a failed provider.
	// Use with attribute.String("from", ...).
	Fallbacks metric.Int64Counter

	// ToolCalls counts agent tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks the number of live conversations.
	ActiveConversations metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM round trips, which routinely take multiple seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CompletionDuration, err = m.Float64Histogram("relai.completion.duration",
		metric.WithDescription("Latency of LLM completion calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("relai.tool_execution.duration",
		metric.WithDescription("Latency of agent tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("relai.retrieval.duration",
		metric.WithDescription("Latency of retriever queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentIterations, err = m.Int64Histogram("relai.agent.iterations",
		metric.WithDescription("Loop iterations per agent run."),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("relai.provider.requests",
		metric.WithDescription("Total provider API requests by provider, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("relai.provider.errors",
		metric.WithDescription("Total provider errors by provider and operation."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("relai.router.fallbacks",
		metric.WithDescription("Times the router advanced past a failed provider."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("relai.tool.calls",
		metric.WithDescription("Total agent tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConversations, err = m.Int64UpDownCounter("relai.active_conversations",
		metric.WithDescription("Number of live conversations."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest records a provider request with the standard attribute
// set. Safe to call on a nil receiver, which is a no-op.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, operation, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error. Safe to call on a nil
// receiver, which is a no-op.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, operation string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
		),
	)
}

// RecordFallback records the router advancing past a failed provider.
// Safe to call on a nil receiver, which is a no-op.
func (m *Metrics) RecordFallback(ctx context.Context, from string) {
	if m == nil {
		return
	}
	m.Fallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("from", from)),
	)
}

// RecordToolCall records an agent tool invocation. Safe to call on a nil
// receiver, which is a no-op.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordCompletionDuration records completion latency for a provider.
// Safe to call on a nil receiver, which is a no-op.
func (m *Metrics) RecordCompletionDuration(ctx context.Context, provider string, seconds float64) {
	if m == nil {
		return
	}
	m.CompletionDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordToolExecutionDuration records tool execution latency. Safe to call on
// a nil receiver, which is a no-op.
func (m *Metrics) RecordToolExecutionDuration(ctx context.Context, tool string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordRetrievalDuration records retriever query latency. Safe to call on a
// nil receiver, which is a no-op.
func (m *Metrics) RecordRetrievalDuration(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.RetrievalDuration.Record(ctx, seconds)
}

// RecordAgentIterations records how many loop iterations an agent run used.
// Safe to call on a nil receiver, which is a no-op.
func (m *Metrics) RecordAgentIterations(ctx context.Context, iterations int) {
	if m == nil {
		return
	}
	m.AgentIterations.Record(ctx, int64(iterations))
}

// AddActiveConversations adjusts the live conversation gauge by delta.
// Safe to call on a nil receiver, which is a no-op.
func (m *Metrics) AddActiveConversations(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveConversations.Add(ctx, delta)
}
