// Package metrics exposes Prometheus collectors for the executor and the
// progress protocol, and the HTTP server that serves them.
//
// Metrics are opt-in. Until InitRegistry runs, the constructors return nil
// and the executor and backends skip every observation:
//
//	metrics.InitRegistry()
//	exec, _ := executor.New(executor.Options{Metrics: metrics.NewExecutorMetrics()})
//	deps := backend.Deps{Metrics: metrics.NewProgressMetrics()}
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// namespace prefixes every DittoStore metric name.
const namespace = "dittostore"

var (
	// registry is set once by InitRegistry and only read afterwards
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry with the Go runtime and
// process collectors already registered. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
