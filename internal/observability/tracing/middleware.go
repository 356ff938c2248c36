package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"market-dashboard/internal/handler/http/requestid"
	"market-dashboard/internal/handler/http/responsewriter"
)

// TraceIDHeader carries the trace ID back to the caller.
const TraceIDHeader = "X-Trace-Id"

// fallbackHeader marks housing responses answered from the bundled dataset.
const fallbackHeader = "X-Fallback"

// Middleware starts a server span per request and returns its trace ID in
// X-Trace-Id. An inbound W3C traceparent is continued. Only 5xx fails the span.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()

		if id := requestid.FromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("request.id", id))
		}
		w.Header().Set(TraceIDHeader, span.SpanContext().TraceID().String())

		rw := responsewriter.Wrap(w)
		next.ServeHTTP(rw, r.WithContext(ctx))

		status := rw.StatusCode()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("http.response_size", rw.BytesWritten()),
		)
		if v := rw.Header().Get(fallbackHeader); v != "" {
			span.SetAttributes(attribute.Bool("market.fallback", v == "true"))
		}
		if status >= http.StatusInternalServerError {
			span.SetAttributes(attribute.Bool("error", true))
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}
