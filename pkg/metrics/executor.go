package metrics

import (
	"time"

	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// executorMetrics is the Prometheus implementation of executor.Metrics.
//
// This implementation collects metrics about storage commands including:
//   - Command counts by kind and outcome
//   - Command latency, retries included
//   - Requests sent to the store (first attempts and retries)
//   - Payload bytes read and written
type executorMetrics struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	attemptsTotal   *prometheus.CounterVec
	bytesTotal      *prometheus.CounterVec
}

// NewExecutorMetrics creates a Prometheus-backed executor.Metrics on the
// global registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the executor to use its built-in no-op implementation.
func NewExecutorMetrics() executor.Metrics {
	if !IsEnabled() {
		return nil
	}
	return NewExecutorMetricsWith(GetRegistry())
}

// NewExecutorMetricsWith registers the executor collectors on reg.
func NewExecutorMetricsWith(reg prometheus.Registerer) executor.Metrics {
	return &executorMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_commands_total",
				Help: "Total number of storage commands by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittostore_command_duration_seconds",
				Help: "Duration of storage commands in seconds, retries included",
				Buckets: []float64{
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
					10.0,  // 10s
					30.0,  // 30s
					120.0, // 2m
				},
			},
			[]string{"kind"},
		),
		attemptsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_command_attempts_total",
				Help: "Total number of requests sent to the object store by command kind",
			},
			[]string{"kind"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_bytes_transferred_total",
				Help: "Total payload bytes transferred by direction",
			},
			[]string{"direction"}, // read or write
		),
	}
}

func (m *executorMetrics) ObserveCommand(kind, outcome string, duration time.Duration) {
	m.commandsTotal.WithLabelValues(kind, outcome).Inc()
	m.commandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *executorMetrics) ObserveAttempt(kind string) {
	m.attemptsTotal.WithLabelValues(kind).Inc()
}

func (m *executorMetrics) RecordBytes(direction string, bytes int64) {
	if bytes <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(direction).Add(float64(bytes))
}
