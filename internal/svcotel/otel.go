// Package svcotel builds the OpenTelemetry tracer provider: an OTLP gRPC
// exporter when a collector address is configured, a no-op provider otherwise.
package svcotel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.9.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProvider is an interface that wraps the trace.TracerProvider and adds the Shutdown method
// that is not part of the interface but is part of the implementation.
type TracerProvider interface {
	trace.TracerProvider
	Shutdown(ctx context.Context) error
	RegisterSpanProcessor(sp tracesdk.SpanProcessor)
}

// Config selects the exporter.
type Config struct {
	ReporterURI string  `env:"TRACING_REPORTER_URI" env-default:""`
	ServiceName string  `env:"TRACING_SERVICE_NAME" env-default:"lakemon"`
	Probability float64 `env:"TRACING_PROBABILITY"  env-default:"1.0"`
}

// Start returns the provider described by cfg. With an empty reporter URI
// tracing is disabled and a NoopProvider is returned.
func Start(ctx context.Context, cfg Config) (TracerProvider, error) {
	if cfg.ReporterURI == "" {
		return NewNoopProvider(), nil
	}

	exporter, err := otlptrace.New(
		ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.ReporterURI),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("svcotel: creating new exporter: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.TraceIDRatioBased(cfg.Probability)),
		tracesdk.WithBatcher(exporter,
			tracesdk.WithMaxExportBatchSize(tracesdk.DefaultMaxExportBatchSize),
			tracesdk.WithBatchTimeout(tracesdk.DefaultScheduleDelay*time.Millisecond),
		),
		tracesdk.WithResource(
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String(cfg.ServiceName),
			),
		),
	)

	// otelsql and otelhttp pick up the global provider.
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// NoopProvider is a no-op tracer provider implementation.
type NoopProvider struct {
	trace.TracerProvider
}

// NewNoopProvider returns a no-op tracer provider.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{
		TracerProvider: noop.NewTracerProvider(),
	}
}

// Shutdown is a no-op implementation of the Shutdown method.
func (p NoopProvider) Shutdown(context.Context) error {
	return nil
}

// RegisterSpanProcessor is a no-op implementation of the RegisterSpanProcessor method.
func (p NoopProvider) RegisterSpanProcessor(tracesdk.SpanProcessor) {}
