package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittostore/pkg/executor"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend option defaults are handled by backend factories
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyStateDefaults(&cfg.State)
	applyCollectorDefaults(&cfg.Collector)
	applyExecutorDefaults(&cfg.Executor)
	applyBackendDefaults(cfg.Backends)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":9090"
	}
}

func applyStateDefaults(cfg *StateConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
}

// applyCollectorDefaults sets collector defaults. Enabled and
// PurgeExpiredCache keep their zero value: a bool cannot tell "unset" from
// false, so GetDefaultConfig turns them on instead.
func applyCollectorDefaults(cfg *CollectorConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.SweepTimeout == 0 {
		cfg.SweepTimeout = 10 * time.Minute
	}
}

func applyExecutorDefaults(cfg *ExecutorConfig) {
	if cfg.PartSize == 0 {
		cfg.PartSize = executor.DefaultPartSize
	}
	if cfg.ClientTTL == 0 {
		cfg.ClientTTL = executor.DefaultClientTTL
	}
}

// applyBackendDefaults normalizes backend types and guarantees non-nil options.
func applyBackendDefaults(backends map[string]BackendConfig) {
	for name, b := range backends {
		b.Type = strings.ToLower(b.Type)
		if b.Options == nil {
			b.Options = map[string]any{}
		}
		backends[name] = b
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is used by the init command to generate a sample configuration file.
// It configures a single local backend under the system temporary directory.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Collector: CollectorConfig{
			Enabled:           true,
			PurgeExpiredCache: true,
		},
		Backends: map[string]BackendConfig{
			"local": {
				Type: "local",
				Options: map[string]any{
					"base_path":               "/tmp/dittostore",
					"workers":                 4,
					"allow_physical_deletion": true,
				},
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
