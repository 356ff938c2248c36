package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP server metrics, labelled by route pattern rather than raw path.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "route"},
	)

	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// Proxy metrics.
var (
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_upstream_requests_total",
			Help: "Total number of relayed upstream requests by result",
		},
		[]string{"upstream", "result"}, // result: success, http_error, timeout, transport_error, rejected
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_upstream_request_duration_seconds",
			Help:    "Time spent waiting on upstream services",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"upstream"},
	)

	FallbackServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_housing_fallback_served_total",
			Help: "Total number of housing responses answered from the bundled dataset",
		},
		[]string{"reason"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxy_circuit_breaker_state",
			Help: "Upstream circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_circuit_breaker_transitions_total",
			Help: "Circuit breaker state changes by target state",
		},
		[]string{"name", "to"},
	)

	PredictionShapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_prediction_response_shape_total",
			Help: "Prediction upstream responses by detected shape",
		},
		[]string{"shape"},
	)
)

// Dashboard metrics.
var (
	DashboardRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dashboard_records",
			Help: "Number of records currently held by a polling source",
		},
		[]string{"source"},
	)

	DashboardUsingFallback = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dashboard_using_fallback",
			Help: "1 when the polling source holds fallback data",
		},
		[]string{"source"},
	)

	DashboardLastUpdated = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dashboard_last_updated_timestamp_seconds",
			Help: "Unix time of the last successful refresh",
		},
		[]string{"source"},
	)

	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_predictions_total",
			Help: "Prediction actions by result",
		},
		[]string{"result"},
	)
)
