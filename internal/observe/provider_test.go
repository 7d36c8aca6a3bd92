package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupRegistersGlobalProviders(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()

	tel, err := Setup("relai-test",
		WithServiceVersion("v0.0.0-test"),
		WithSpanExporter(exporter),
	)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	_, span := StartSpan(context.Background(), "test.op")
	if !span.SpanContext().IsValid() {
		t.Error("StartSpan returned an invalid span context after Setup")
	}
	span.End()

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "test.op" {
		t.Errorf("exported span name = %q, want %q", spans[0].Name, "test.op")
	}
}

func TestSetupWithoutExporterStillRecords(t *testing.T) {
	tel, err := Setup("relai-test")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "test.quiet")
	defer span.End()

	if got := Logger(ctx); got == nil {
		t.Fatal("Logger(ctx) = nil")
	}
	if !span.SpanContext().HasTraceID() {
		t.Error("span context has no trace id; spans should be recorded without an exporter")
	}
}
