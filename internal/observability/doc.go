// Package observability groups the logging, metrics, SLO and tracing support
// shared by cmd/proxy and cmd/dashboard.
//
// Subpackages:
//   - logging: slog loggers and request-scoped logger propagation
//   - metrics: Prometheus collectors for HTTP serving, relays and dashboard state
//   - slo: availability and fallback-ratio tracking for polled data feeds
//   - tracing: OpenTelemetry provider setup and server middleware
package observability
