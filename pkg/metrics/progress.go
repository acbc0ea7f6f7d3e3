package metrics

import (
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// progressMetrics is the Prometheus implementation of progress.Metrics.
type progressMetrics struct {
	callbacksTotal  *prometheus.CounterVec
	violationsTotal *prometheus.CounterVec
}

// NewProgressMetrics creates a Prometheus-backed progress.Metrics on the
// global registry. Returns nil if metrics are not enabled.
func NewProgressMetrics() progress.Metrics {
	if !IsEnabled() {
		return nil
	}
	return NewProgressMetricsWith(GetRegistry())
}

// NewProgressMetricsWith registers the progress collectors on reg.
func NewProgressMetricsWith(reg prometheus.Registerer) progress.Metrics {
	return &progressMetrics{
		callbacksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_progress_callbacks_total",
				Help: "Total number of terminal progress callbacks by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		violationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_progress_violations_total",
				Help: "Total number of progress contract violations by operation and kind",
			},
			[]string{"operation", "kind"},
		),
	}
}

func (m *progressMetrics) RecordCallback(operation, outcome string) {
	m.callbacksTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *progressMetrics) RecordViolation(operation, kind string) {
	m.violationsTotal.WithLabelValues(operation, kind).Inc()
}
