package config

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks configuration loading for one component.
type Metrics struct {
	LoadTimestamp  prometheus.Gauge
	FallbacksTotal *prometheus.CounterVec
	FallbackActive prometheus.Gauge
}

// NewMetrics registers the config metrics of component with reg.
func NewMetrics(reg prometheus.Registerer, component string) *Metrics {
	m := &Metrics{
		LoadTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_config_load_timestamp", component),
			Help: fmt.Sprintf("Unix timestamp of last %s configuration load", component),
		}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_config_fallbacks_total", component),
			Help: fmt.Sprintf("Total number of %s configuration values replaced by defaults", component),
		}, []string{"field"}),
		FallbackActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_config_fallback_active", component),
			Help: fmt.Sprintf("1 if any %s configuration fallback is active, 0 otherwise", component),
		}),
	}
	reg.MustRegister(m.LoadTimestamp, m.FallbacksTotal, m.FallbackActive)
	return m
}

// RecordLoad marks a completed configuration load.
func (m *Metrics) RecordLoad() {
	m.LoadTimestamp.SetToCurrentTime()
}

// RecordFallback counts a value replaced by its default and raises FallbackActive.
func (m *Metrics) RecordFallback(field string) {
	m.FallbacksTotal.WithLabelValues(field).Inc()
	m.FallbackActive.Set(1)
}
