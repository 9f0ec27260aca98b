// Package telemetry installs the OpenTelemetry tracer provider that
// lifecycle spans are recorded with.
package telemetry

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/firefly-engineering/clonebox/internal/logging"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "clonebox"

// ShutdownFunc flushes and stops the installed provider.
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Enabled reports whether an OTLP endpoint is configured in the
// environment.
func Enabled() bool {
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" ||
		os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") != ""
}

// NewProvider returns a provider that batches spans to exp.
func NewProvider(exp sdktrace.SpanExporter, version string) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
}

// Setup installs an OTLP/HTTP exporting provider as the global one when
// an endpoint is configured. Otherwise spans stay no-ops and the returned
// shutdown does nothing.
func Setup(ctx context.Context, version string) (ShutdownFunc, error) {
	if !Enabled() {
		return noop, nil
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return noop, err
	}
	tp := NewProvider(exp, version)
	otel.SetTracerProvider(tp)
	logging.Debug("tracing enabled", "exporter", "otlp/http")
	return tp.Shutdown, nil
}
