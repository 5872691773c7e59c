// Package telemetry configures the OpenTelemetry tracer and meter
// providers shared by every subsystem through events.Bus. Custom span
// attributes use the `lattice.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lattice.run/controlplane"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Meter returns the package-level meter.
func Meter() metric.Meter {
	return otel.Meter(tracerName)
}

// Shutdown stops both providers. Safe to call even when tracing is
// disabled (it is then a no-op).
type Shutdown func(context.Context) error

// Init bootstraps the trace and meter providers with an OTLP gRPC
// trace exporter. If endpoint is empty, export is disabled and
// Tracer()/Meter() fall back to the library's default no-op
// providers — callers never need to special-case "telemetry off".
func Init(ctx context.Context, endpoint, serviceVersion string) (trace.Tracer, metric.Meter, Shutdown, error) {
	if endpoint == "" {
		return Tracer(), Meter(), func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("lattice-controlplane"),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via OTEL_EXPORTER_OTLP_INSECURE
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	// No OTLP metric exporter is wired — none of the retrieved examples
	// carry one — so this meter provider runs without a reader:
	// events.Bus.Emit's counters still work in-process, they simply have
	// nowhere external to flush to. internal/metrics (Prometheus) is
	// this system's actual external metrics surface.
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}

	return Tracer(), Meter(), shutdown, nil
}

// StartReconcileSpan starts the span wrapping one fleet reconciliation
// cycle.
func StartReconcileSpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "fleet.reconcile", trace.WithSpanKind(trace.SpanKindInternal))
}

// StartIntentTransitionSpan starts the span wrapping one intent state
// transition.
func StartIntentTransitionSpan(ctx context.Context, intentID, from, to string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "intent.transition",
		trace.WithAttributes(
			attribute.String("lattice.intent_id", intentID),
			attribute.String("lattice.from_state", from),
			attribute.String("lattice.to_state", to),
		),
	)
}

// StartExecSessionSpan starts the span wrapping one exec session's
// lifetime.
func StartExecSessionSpan(ctx context.Context, sessionID, spriteID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "exec.session",
		trace.WithAttributes(
			attribute.String("lattice.session_id", sessionID),
			attribute.String("lattice.sprite_id", spriteID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
