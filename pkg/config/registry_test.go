package config

import (
	"context"
	"strings"
	"testing"

	"github.com/marmos91/dittostore/pkg/backend"
)

func TestInitializeRegistry(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig()
	cfg.Backends = map[string]BackendConfig{
		"hot":  {Type: "local", Options: map[string]any{"base_path": t.TempDir()}},
		"warm": {Type: "local", Options: map[string]any{"base_path": t.TempDir(), "workers": 2}},
	}

	reg, err := InitializeRegistry(ctx, cfg, backend.Deps{})
	if err != nil {
		t.Fatalf("InitializeRegistry failed: %v", err)
	}
	defer func() { _ = reg.Close() }()

	if reg.Count() != 2 {
		t.Errorf("Expected 2 backends, got %d", reg.Count())
	}
	if _, err := reg.Online("hot"); err != nil {
		t.Errorf("Expected online backend 'hot': %v", err)
	}
}

func TestInitializeRegistry_BadOptions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backends = map[string]BackendConfig{
		"a": {Type: "local", Options: map[string]any{"base_path": t.TempDir()}},
		"b": {Type: "local", Options: map[string]any{"base_pth": "/typo"}},
	}

	_, err := InitializeRegistry(context.Background(), cfg, backend.Deps{})
	if err == nil {
		t.Fatal("Expected error for unknown option key")
	}
	if !strings.Contains(err.Error(), `"b"`) {
		t.Errorf("Expected error naming backend b, got: %v", err)
	}
}

func TestInitializeRegistry_NilConfig(t *testing.T) {
	if _, err := InitializeRegistry(context.Background(), nil, backend.Deps{}); err == nil {
		t.Fatal("Expected error for nil config")
	}
}

func TestOpenState(t *testing.T) {
	ctx := context.Background()

	cfg := GetDefaultConfig()
	mem, err := OpenState(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenState(memory) failed: %v", err)
	}
	_ = mem.Close()

	cfg.State.Type = "badger"
	cfg.State.Badger.DBPath = t.TempDir()
	db, err := OpenState(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenState(badger) failed: %v", err)
	}
	_ = db.Close()

	cfg.State.Type = "etcd"
	if _, err := OpenState(ctx, cfg); err == nil {
		t.Fatal("Expected error for unknown state type")
	}
}

func TestNewExecutor(t *testing.T) {
	cfg := GetDefaultConfig()

	exec, err := NewExecutor(cfg, nil)
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	_ = exec.Close()

	cfg.Executor.PartSize = 1024
	if _, err := NewExecutor(cfg, nil); err == nil {
		t.Fatal("Expected error for part size below 5MB")
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	result := InitializeMetrics(GetDefaultConfig())

	if result.Server != nil || result.Executor != nil || result.Progress != nil {
		t.Errorf("Expected no metrics components when disabled, got %+v", result)
	}
}

func TestBackendNames(t *testing.T) {
	cfg := &Config{Backends: map[string]BackendConfig{"b": {}, "a": {}, "c": {}}}

	names := BackendNames(cfg)
	if strings.Join(names, ",") != "a,b,c" {
		t.Errorf("Expected sorted names, got %v", names)
	}
}
