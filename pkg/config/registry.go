package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/backend"
	"github.com/marmos91/dittostore/pkg/registry"
)

// InitializeRegistry creates a Registry holding every configured backend.
//
// Backends are created in name order so failures are reproducible. On the
// first failure every backend created so far is closed.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Complete configuration loaded from config file
//   - deps: Shared collaborators (executor, state store, metrics)
//
// Returns:
//   - *registry.Registry: Registry with all backends registered
//   - error: If the configuration is nil or a backend cannot be created
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, err := config.InitializeRegistry(ctx, cfg, deps)
//	if err != nil {
//	    log.Fatalf("Failed to initialize registry: %v", err)
//	}
//	defer reg.Close()
func InitializeRegistry(ctx context.Context, cfg *Config, deps backend.Deps) (*registry.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	logger.Debug("Initializing registry from configuration")

	reg := registry.New(deps)

	for _, name := range BackendNames(cfg) {
		bc := cfg.Backends[name]
		logger.Debug("Creating backend %q (type: %s)", name, bc.Type)

		if _, err := reg.Create(ctx, name, bc.Type, bc.Options); err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("failed to create backend %q: %w", name, err)
		}

		logger.Debug("Backend %q registered successfully", name)
	}

	logger.Debug("Registered %d backend(s)", reg.Count())
	return reg, nil
}
