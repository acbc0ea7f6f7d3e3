// Package registry keeps the backend factories by type identifier and the
// configured backend instances by name.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/backend"
	"github.com/marmos91/dittostore/pkg/backend/glacier"
	"github.com/marmos91/dittostore/pkg/backend/local"
	s3backend "github.com/marmos91/dittostore/pkg/backend/s3"
)

var (
	// ErrUnknownType is returned when no factory is registered for a type.
	ErrUnknownType = errors.New("unknown backend type")

	// ErrUnknownBackend is returned when no instance has the given name.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrCapability is returned when an instance lacks the requested capability.
	ErrCapability = errors.New("backend lacks capability")
)

// Registry manages backend factories and named backend instances.
// It provides thread-safe registration and lookup.
//
// Example usage:
//
//	reg := registry.New(deps)
//	reg.Create(ctx, "archive", "glacier", options)
//
//	nearline, _ := reg.Nearline("archive")
//	nearline.Restore(ctx, subset, sink)
type Registry struct {
	mu        sync.RWMutex
	deps      backend.Deps
	factories map[string]backend.Factory
	backends  map[string]backend.Backend
}

// Periodic is a named backend with a periodic action.
type Periodic struct {
	Name  string
	Actor backend.PeriodicActor
}

// New creates a registry knowing the built-in backend types.
//
// Parameters:
//   - deps: collaborators handed to every factory
func New(deps backend.Deps) *Registry {
	r := &Registry{
		deps:      deps,
		factories: make(map[string]backend.Factory),
		backends:  make(map[string]backend.Backend),
	}
	r.factories[local.Type] = local.Factory
	r.factories[s3backend.Type] = s3backend.Factory
	r.factories[glacier.Type] = glacier.Factory
	return r
}

// RegisterType adds or replaces the factory of a backend type.
func (r *Registry) RegisterType(typ string, factory backend.Factory) error {
	if typ == "" {
		return fmt.Errorf("cannot register factory with empty type")
	}
	if factory == nil {
		return fmt.Errorf("cannot register nil factory for type %q", typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = factory
	return nil
}

// Types returns the registered type identifiers, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.factories)
}

// Create builds a backend with the factory of typ and registers it as name.
//
// Parameters:
//   - ctx: passed to the factory
//   - name: instance name, unique in the registry
//   - typ: backend type identifier
//   - options: raw type-specific options
//
// Returns:
//   - backend.Backend: the registered instance
//   - error: ErrUnknownType, a duplicate name or a factory error
func (r *Registry) Create(ctx context.Context, name, typ string, options map[string]any) (backend.Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	b, err := factory(ctx, name, options, r.deps)
	if err != nil {
		return nil, err
	}
	if err := r.Register(b); err != nil {
		_ = b.Close()
		return nil, err
	}

	logger.Debug("Backend registered: name=%s type=%s", name, typ)
	return b, nil
}

// Register adds an already built backend under b.Name().
// Returns an error if a backend with the same name already exists.
func (r *Registry) Register(b backend.Backend) error {
	if b == nil {
		return fmt.Errorf("cannot register nil backend")
	}
	if b.Name() == "" {
		return fmt.Errorf("cannot register backend with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[b.Name()]; exists {
		return fmt.Errorf("backend %q already registered", b.Name())
	}
	r.backends[b.Name()] = b
	return nil
}

// Get retrieves a backend by name.
func (r *Registry) Get(name string) (backend.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.backends[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return b, nil
}

// Online retrieves a backend able to serve bytes directly.
func (r *Registry) Online(name string) (backend.Online, error) {
	b, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	online, ok := b.(backend.Online)
	if !ok {
		return nil, fmt.Errorf("%w: %q (%s) is not online", ErrCapability, name, b.Type())
	}
	return online, nil
}

// Nearline retrieves a backend serving files through restoration.
func (r *Registry) Nearline(name string) (backend.Nearline, error) {
	b, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	nearline, ok := b.(backend.Nearline)
	if !ok {
		return nil, fmt.Errorf("%w: %q (%s) is not nearline", ErrCapability, name, b.Type())
	}
	return nearline, nil
}

// Periodic returns the backends with a periodic action, sorted by name.
func (r *Registry) Periodic() []Periodic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Periodic
	for _, name := range sortedKeys(r.backends) {
		b := r.backends[name]
		if !b.HasPeriodicAction() {
			continue
		}
		if actor, ok := b.(backend.PeriodicActor); ok {
			out = append(out, Periodic{Name: name, Actor: actor})
		}
	}
	return out
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.backends)
}

// Count returns the number of registered backends.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

// Remove unregisters and closes a backend.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	b, exists := r.backends[name]
	delete(r.backends, name)
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return b.Close()
}

// Close closes every backend and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	backends := r.backends
	r.backends = make(map[string]backend.Backend)
	r.mu.Unlock()

	var errs []error
	for _, name := range sortedKeys(backends) {
		if err := backends[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
