package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LevelNormalized(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Collector(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Collector.Interval != time.Hour {
		t.Errorf("Expected default interval 1h, got %v", cfg.Collector.Interval)
	}
	if cfg.Collector.SweepTimeout != 10*time.Minute {
		t.Errorf("Expected default sweep timeout 10m, got %v", cfg.Collector.SweepTimeout)
	}
	if cfg.Collector.Enabled {
		t.Error("ApplyDefaults must not flip boolean settings")
	}
}

func TestApplyDefaults_Executor(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Executor.PartSize != 10*1024*1024 {
		t.Errorf("Expected default part size 10MiB, got %d", cfg.Executor.PartSize)
	}
	if cfg.Executor.ClientTTL != 5*time.Minute {
		t.Errorf("Expected default client TTL 5m, got %v", cfg.Executor.ClientTTL)
	}
}

func TestApplyDefaults_Backends(t *testing.T) {
	cfg := &Config{
		Backends: map[string]BackendConfig{
			"cold": {Type: "GLACIER"},
		},
	}
	ApplyDefaults(cfg)

	cold := cfg.Backends["cold"]
	if cold.Type != "glacier" {
		t.Errorf("Expected lowercased type 'glacier', got %q", cold.Type)
	}
	if cold.Options == nil {
		t.Error("Expected non-nil options map")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging:   LoggingConfig{Level: "WARN", Format: "json", Output: "stderr"},
		Metrics:   MetricsConfig{Listen: ":9100"},
		State:     StateConfig{Type: "badger"},
		Collector: CollectorConfig{Interval: time.Minute, SweepTimeout: time.Second},
		Executor:  ExecutorConfig{PartSize: 64 * 1024 * 1024, ClientTTL: time.Hour},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" || cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Logging values were overwritten: %+v", cfg.Logging)
	}
	if cfg.Metrics.Listen != ":9100" {
		t.Errorf("Expected listen ':9100', got %q", cfg.Metrics.Listen)
	}
	if cfg.State.Type != "badger" {
		t.Errorf("Expected state type 'badger', got %q", cfg.State.Type)
	}
	if cfg.Collector.Interval != time.Minute || cfg.Collector.SweepTimeout != time.Second {
		t.Errorf("Collector values were overwritten: %+v", cfg.Collector)
	}
	if cfg.Executor.PartSize != 64*1024*1024 || cfg.Executor.ClientTTL != time.Hour {
		t.Errorf("Executor values were overwritten: %+v", cfg.Executor)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config should be valid, got: %v", err)
	}
}
