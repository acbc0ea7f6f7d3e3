package config

import (
	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/progress"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Executor collects command metrics (nil if disabled, the executor uses a no-op)
	Executor executor.Metrics

	// Progress collects terminal callback metrics (nil if disabled)
	Progress progress.Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled every field is nil, which components treat as
// no-op.
//
// Parameters:
//   - cfg: The complete DittoStore configuration
//
// Returns:
//   - MetricsResult containing all metrics components
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Listen: cfg.Metrics.Listen,
		}),
		Executor: metrics.NewExecutorMetrics(),
		Progress: metrics.NewProgressMetrics(),
	}
}
