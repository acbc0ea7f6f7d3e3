package config

import (
	"context"
	"fmt"
	"sort"

	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/marmos91/dittostore/pkg/state"
)

// OpenState opens the configured state store. The caller closes it.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Complete configuration
//
// Returns:
//   - state.Store: cache index and pending action store
//   - error: If the type is unknown or the database cannot be opened
func OpenState(ctx context.Context, cfg *Config) (state.Store, error) {
	switch cfg.State.Type {
	case "memory":
		return state.NewMemoryStore(), nil
	case "badger":
		store, err := state.NewBadgerStore(ctx, cfg.State.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger state store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown state store type: %q", cfg.State.Type)
	}
}

// NewExecutor builds the S3 command executor from the executor section.
// metrics may be nil.
func NewExecutor(cfg *Config, metrics executor.Metrics) (*executor.Executor, error) {
	exec, err := executor.New(executor.Options{
		PartSize:  cfg.Executor.PartSize,
		ClientTTL: cfg.Executor.ClientTTL,
		Metrics:   metrics,

		RequestsPerSecond: cfg.Executor.RequestsPerSecond,
		Burst:             cfg.Executor.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	return exec, nil
}

// BackendNames returns the configured backend names in sorted order.
func BackendNames(cfg *Config) []string {
	names := make([]string, 0, len(cfg.Backends))
	for name := range cfg.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
