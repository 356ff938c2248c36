package metrics

import (
	"strconv"
	"time"
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration, bytes int) {
	code := strconv.Itoa(status)
	HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	HTTPRequestDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
	HTTPResponseSize.WithLabelValues(method, route).Observe(float64(bytes))
}

// RecordUpstreamRequest records one relayed call and how it ended.
func RecordUpstreamRequest(upstream, result string, duration time.Duration) {
	UpstreamRequestsTotal.WithLabelValues(upstream, result).Inc()
	if duration > 0 {
		UpstreamRequestDuration.WithLabelValues(upstream).Observe(duration.Seconds())
	}
}

// RecordFallbackServed counts a housing response answered from the bundled dataset.
func RecordFallbackServed(reason string) {
	FallbackServedTotal.WithLabelValues(reason).Inc()
}

// SetCircuitBreakerState publishes a breaker's state. A transition is counted
// when to is non-empty.
func SetCircuitBreakerState(name string, state int, to string) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	if to != "" {
		CircuitBreakerTransitions.WithLabelValues(name, to).Inc()
	}
}

// RecordPredictionShape counts the shape the prediction upstream answered with.
func RecordPredictionShape(shape string) {
	PredictionShapesTotal.WithLabelValues(shape).Inc()
}

// SetDashboardState mirrors a polling source's committed state.
func SetDashboardState(source string, records int, usingFallback bool, lastUpdated time.Time) {
	DashboardRecords.WithLabelValues(source).Set(float64(records))
	fallback := 0.0
	if usingFallback {
		fallback = 1
	}
	DashboardUsingFallback.WithLabelValues(source).Set(fallback)
	if !lastUpdated.IsZero() {
		DashboardLastUpdated.WithLabelValues(source).Set(float64(lastUpdated.Unix()))
	}
}

// RecordPrediction counts a finished prediction action.
// Result should be "success", "failure" or "canceled".
func RecordPrediction(result string) {
	PredictionsTotal.WithLabelValues(result).Inc()
}
