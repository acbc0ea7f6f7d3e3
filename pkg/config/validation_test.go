package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config, got error: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "invalid log level",
			mutate: func(c *Config) { c.Logging.Level = "TRACE" },
			want:   "Level",
		},
		{
			name:   "invalid log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "Format",
		},
		{
			name:   "invalid state type",
			mutate: func(c *Config) { c.State.Type = "postgres" },
			want:   "Type",
		},
		{
			name:   "badger without db path",
			mutate: func(c *Config) { c.State.Type = "badger" },
			want:   "db_path",
		},
		{
			name:   "negative collector interval",
			mutate: func(c *Config) { c.Collector.Interval = -time.Second },
			want:   "Interval",
		},
		{
			name:   "part size below minimum",
			mutate: func(c *Config) { c.Executor.PartSize = 1024 },
			want:   "PartSize",
		},
		{
			name: "unknown backend type",
			mutate: func(c *Config) {
				c.Backends["tape"] = BackendConfig{Type: "tape"}
			},
			want: "Type",
		},
		{
			name: "backend name with slash",
			mutate: func(c *Config) {
				c.Backends["a/b"] = BackendConfig{Type: "local"}
			},
			want: "name cannot contain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_BadgerInMemory(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.State.Type = "badger"
	cfg.State.Badger.InMemory = true

	if err := Validate(cfg); err != nil {
		t.Errorf("In-memory badger needs no db_path, got: %v", err)
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "DEBUG"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Level %q should be accepted, got: %v", level, err)
		}
	}
}

func TestValidate_NoBackends(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backends = nil

	// Raw object commands work without named backends
	if err := Validate(cfg); err != nil {
		t.Errorf("Config without backends should be valid, got: %v", err)
	}
}
