package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Global tracer for the application
	Tracer trace.Tracer

	// Global meter for custom metrics
	Meter metric.Meter

	// Custom metrics
	DeliveriesReceived metric.Int64Counter
	RunsStarted        metric.Int64Counter
	RunsCompleted      metric.Int64Counter
	RunsActive         metric.Int64UpDownCounter
	DispatchLatency    metric.Float64Histogram
	RunDuration        metric.Float64Histogram
)

// The globals are usable before InitTelemetry runs: the otel default
// providers are no-ops, so call sites never need a nil check. InitTelemetry
// rebinds them to the configured providers.
func init() {
	Tracer = otel.Tracer("foreman")
	Meter = otel.Meter("foreman")
	if err := initMetrics(); err != nil {
		log.Printf("[Telemetry] creating instruments: %v", err)
	}
}

// InitTelemetry initializes OpenTelemetry tracing and metrics
func InitTelemetry(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", "development"),
		),
	)
	if err != nil {
		return nil, err
	}

	// Create OTLP trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	// Create trace provider
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	// Set global trace provider and propagator
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Create global tracer
	Tracer = otel.Tracer(serviceName)

	// Create global meter
	Meter = otel.Meter(serviceName)

	// Initialize custom metrics
	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("[Telemetry] Initialized with endpoint %s", otelEndpoint)

	// Return shutdown function
	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

// initMetrics creates all custom metrics
func initMetrics() error {
	var err error

	DeliveriesReceived, err = Meter.Int64Counter(
		"foreman.deliveries.received",
		metric.WithDescription("Number of webhook deliveries received"),
	)
	if err != nil {
		return err
	}

	RunsStarted, err = Meter.Int64Counter(
		"foreman.runs.started",
		metric.WithDescription("Number of agent runs started"),
	)
	if err != nil {
		return err
	}

	RunsCompleted, err = Meter.Int64Counter(
		"foreman.runs.completed",
		metric.WithDescription("Number of agent runs completed"),
	)
	if err != nil {
		return err
	}

	RunsActive, err = Meter.Int64UpDownCounter(
		"foreman.runs.active",
		metric.WithDescription("Number of agent runs currently in flight"),
	)
	if err != nil {
		return err
	}

	DispatchLatency, err = Meter.Float64Histogram(
		"foreman.dispatch.latency",
		metric.WithDescription("Dispatch operation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	RunDuration, err = Meter.Float64Histogram(
		"foreman.run.duration",
		metric.WithDescription("Agent run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}
