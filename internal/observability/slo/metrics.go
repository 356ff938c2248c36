// Package slo tracks how well the dashboard's data feed meets its service level
// objectives: how often revalidation succeeds and how often it lands on fallback data.
package slo

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// AvailabilitySLO is the target share of revalidations that succeed, in percent.
	AvailabilitySLO = 99.0

	// FallbackRatioSLO is the maximum acceptable share of successful
	// revalidations answered with the bundled dataset.
	FallbackRatioSLO = 0.05
)

var (
	SLOAvailability = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slo_feed_availability_ratio",
			Help: "Share of successful revalidations (0-1), target: 0.99",
		},
		[]string{"source"},
	)

	SLOFallbackRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slo_feed_fallback_ratio",
			Help: "Share of successful revalidations served from fallback data (0-1), target: 0.05",
		},
		[]string{"source"},
	)
)

// Report is a point-in-time view of a Tracker.
type Report struct {
	Requests      int
	Failures      int
	Fallbacks     int
	Availability  float64
	FallbackRatio float64
}

// MeetsTargets reports whether both objectives hold. An empty window meets them.
func (r Report) MeetsTargets() bool {
	return r.Availability*100 >= AvailabilitySLO && r.FallbackRatio <= FallbackRatioSLO
}

// Tracker accumulates revalidation results for one source. Safe for concurrent use.
type Tracker struct {
	source string

	mu        sync.Mutex
	requests  int
	failures  int
	fallbacks int
}

// NewTracker creates a tracker publishing under the given source label.
func NewTracker(source string) *Tracker {
	return &Tracker{source: source}
}

// Observe records one finished revalidation. Canceled calls should not be observed.
func (t *Tracker) Observe(success, usingFallback bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests++
	switch {
	case !success:
		t.failures++
	case usingFallback:
		t.fallbacks++
	}
}

// Report returns the current ratios without resetting the window.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report()
}

func (t *Tracker) report() Report {
	r := Report{
		Requests:     t.requests,
		Failures:     t.failures,
		Fallbacks:    t.fallbacks,
		Availability: 1,
	}
	if t.requests == 0 {
		return r
	}
	succeeded := t.requests - t.failures
	r.Availability = float64(succeeded) / float64(t.requests)
	if succeeded > 0 {
		r.FallbackRatio = float64(t.fallbacks) / float64(succeeded)
	}
	return r
}

// Publish sets the SLO gauges from the current window, starts a new window and
// returns the published report.
func (t *Tracker) Publish() Report {
	t.mu.Lock()
	r := t.report()
	t.requests, t.failures, t.fallbacks = 0, 0, 0
	t.mu.Unlock()

	SLOAvailability.WithLabelValues(t.source).Set(r.Availability)
	SLOFallbackRatio.WithLabelValues(t.source).Set(r.FallbackRatio)
	return r
}
