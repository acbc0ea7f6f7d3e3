package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittostore/pkg/state"
	"github.com/spf13/viper"
)

// Config represents the complete DittoStore configuration.
//
// This structure captures all configurable aspects of DittoStore including:
//   - Logging configuration
//   - Metrics exposition
//   - The state store holding the cache index and pending actions
//   - The background collector
//   - The S3 command executor
//   - Named storage location backends
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOSTORE_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend type decodes its own options map (see pkg/backend/*). The
// Config only carries the type name and the raw options, so typos inside
// options are reported by the backend factory, not here.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls Prometheus metrics exposition
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// State selects the store for the cache index and pending actions
	State StateConfig `mapstructure:"state" yaml:"state"`

	// Collector configures background periodic actions and cache purging
	Collector CollectorConfig `mapstructure:"collector" yaml:"collector"`

	// Executor configures the S3 command executor shared by object store backends
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`

	// Backends maps instance names to backend configurations
	Backends map[string]BackendConfig `mapstructure:"backends" yaml:"backends" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// MetricsConfig controls the metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the address of the metrics server
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required"`
}

// StateConfig selects the state store.
type StateConfig struct {
	// Type specifies which state store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger state.BadgerConfig `mapstructure:"badger" yaml:"badger"`
}

// CollectorConfig configures the background collector.
type CollectorConfig struct {
	// Enabled starts background sweeps in long-running commands
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is the time between sweeps
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// SweepTimeout bounds a single sweep
	SweepTimeout time.Duration `mapstructure:"sweep_timeout" yaml:"sweep_timeout" validate:"gt=0"`

	// PurgeExpiredCache removes expired cache entries on every sweep
	PurgeExpiredCache bool `mapstructure:"purge_expired_cache" yaml:"purge_expired_cache"`
}

// ExecutorConfig configures the S3 command executor.
type ExecutorConfig struct {
	// PartSize is the multipart threshold and part size in bytes (minimum 5MiB)
	PartSize int64 `mapstructure:"part_size" yaml:"part_size" validate:"gte=5242880,lte=5368709120"`

	// ClientTTL is how long an S3 client stays cached per connection settings
	ClientTTL time.Duration `mapstructure:"client_ttl" yaml:"client_ttl" validate:"gt=0"`

	// RequestsPerSecond caps requests per endpoint and credentials, 0 disables
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second,omitempty" validate:"gte=0"`

	// Burst is the number of requests allowed above the rate (default: RequestsPerSecond)
	Burst int `mapstructure:"burst" yaml:"burst,omitempty" validate:"gte=0"`
}

// BackendConfig defines a single named storage location.
type BackendConfig struct {
	// Type specifies the backend implementation
	// Valid values: local, s3, glacier
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=local s3 glacier"`

	// Options are decoded by the backend factory
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOSTORE_*)
//  2. Configuration file
//  3. Default values
//
// Backend names are map keys and therefore lowercased by viper.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOSTORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/dittostore/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the scalar settings overridable from the environment.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"metrics.enabled",
	"metrics.listen",
	"state.type",
	"state.badger.db_path",
	"collector.enabled",
	"collector.interval",
	"collector.sweep_timeout",
	"collector.purge_expired_cache",
	"executor.part_size",
	"executor.client_ttl",
	"executor.requests_per_second",
	"executor.burst",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittostore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittostore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
