// Package metrics holds the process-wide Prometheus collectors shared by the proxy
// and the dashboard, plus small helpers to record into them.
//
// Collectors register with the default registry and are served on /metrics.
//
//	start := time.Now()
//	// ... relay to the prediction upstream ...
//	metrics.RecordUpstreamRequest("prediction", "success", time.Since(start))
package metrics
