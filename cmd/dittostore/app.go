package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/backend"
	"github.com/marmos91/dittostore/pkg/config"
	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/marmos91/dittostore/pkg/registry"
	"github.com/marmos91/dittostore/pkg/state"
)

// app holds the components built from the configuration for one command run.
type app struct {
	metrics *config.MetricsResult
	exec    *executor.Executor
	state   state.Store
	reg     *registry.Registry
}

// openApp builds the executor, state store and backend registry.
func openApp(ctx context.Context) (*app, error) {
	a := &app{metrics: config.InitializeMetrics(cfg)}

	exec, err := config.NewExecutor(cfg, a.metrics.Executor)
	if err != nil {
		return nil, err
	}
	a.exec = exec

	st, err := config.OpenState(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.state = st

	reg, err := config.InitializeRegistry(ctx, cfg, backend.Deps{
		Executor: exec,
		Cache:    st,
		Pending:  st,
		Metrics:  a.metrics.Progress,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.reg = reg

	logger.Debug("Opened %d backend(s): %v", reg.Count(), reg.Names())
	return a, nil
}

// Close releases the registry before the state store the backends write to.
func (a *app) Close() error {
	var errs []error
	if a.reg != nil {
		errs = append(errs, a.reg.Close())
	}
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	if a.exec != nil {
		errs = append(errs, a.exec.Close())
	}
	return errors.Join(errs...)
}

// withApp runs fn with an open app and closes it afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close: %v", err)
		}
	}()
	return fn(a)
}

// backendName is the --backend flag shared by every backend command.
var backendName string

func requireBackend() error {
	if backendName == "" {
		return fmt.Errorf("--backend is required (configured: %v)", config.BackendNames(cfg))
	}
	// Configuration keys are lowercased on load
	backendName = strings.ToLower(backendName)
	return nil
}
