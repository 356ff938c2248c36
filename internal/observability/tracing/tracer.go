// Package tracing wires OpenTelemetry into the module: the shared tracer, the
// provider set up by the commands and the HTTP server middleware.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used across the module.
const InstrumentationName = "market-dashboard"

// tracer is the package tracer, re-resolved by Init.
var tracer = otel.Tracer(InstrumentationName)

// GetTracer returns the tracer used for server and client spans.
//
//	ctx, span := tracing.GetTracer().Start(ctx, "apiclient.attempt")
//	defer span.End()
func GetTracer() trace.Tracer {
	return tracer
}

// Init installs an SDK tracer provider for serviceName as the global provider
// together with the W3C trace-context propagator. Spans stay in-process unless
// opts add an exporter. The returned function flushes and shuts the provider down.
func Init(serviceName string, opts ...sdktrace.TracerProviderOption) func(context.Context) error {
	res := resource.NewSchemaless(semconv.ServiceName(serviceName))
	opts = append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer = tp.Tracer(InstrumentationName)
	return tp.Shutdown
}

// Setup is Init plus an OTLP/HTTP exporter when endpoint is set.
// An empty endpoint keeps spans local; trace IDs are still issued.
func Setup(ctx context.Context, serviceName, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return Init(serviceName), nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	return Init(serviceName, sdktrace.WithBatcher(exporter)), nil
}
