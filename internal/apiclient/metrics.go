package apiclient

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder receives per-attempt and per-call observations.
type MetricsRecorder interface {
	// RecordAttempt is called once per transport attempt.
	RecordAttempt(client string, kind FailureKind, duration time.Duration)

	// RecordCall is called once per logical call with its final kind.
	RecordCall(client string, kind FailureKind, attempts int, duration time.Duration)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) RecordAttempt(string, FailureKind, time.Duration)   {}
func (NoopMetrics) RecordCall(string, FailureKind, int, time.Duration) {}

// PrometheusMetrics records client observations as Prometheus collectors.
type PrometheusMetrics struct {
	attempts     *prometheus.CounterVec
	attemptTime  *prometheus.HistogramVec
	calls        *prometheus.CounterVec
	callAttempts *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the client collectors with reg. Registering
// twice against the same registry reuses the existing collectors.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	return &PrometheusMetrics{
		attempts: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_attempts_total",
				Help: "Transport attempts by client and result kind",
			},
			[]string{"client", "kind"},
		)),
		attemptTime: registerOrReuse(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apiclient_attempt_duration_seconds",
				Help:    "Duration of single transport attempts",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"client"},
		)),
		calls: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_calls_total",
				Help: "Logical calls by client and final result kind",
			},
			[]string{"client", "kind"},
		)),
		callAttempts: registerOrReuse(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apiclient_call_attempts",
				Help:    "Attempts spent per logical call",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"client"},
		)),
	}
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *PrometheusMetrics) RecordAttempt(client string, kind FailureKind, d time.Duration) {
	m.attempts.WithLabelValues(client, kind.String()).Inc()
	m.attemptTime.WithLabelValues(client).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordCall(client string, kind FailureKind, attempts int, _ time.Duration) {
	m.calls.WithLabelValues(client, kind.String()).Inc()
	m.callAttempts.WithLabelValues(client).Observe(float64(attempts))
}
