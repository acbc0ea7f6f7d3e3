// Package backend defines the storage location contract: the capability
// interfaces every backend implements, plus the helpers they share (option
// decoding, subset partitioning, the per-item worker pool).
//
// A backend receives WorkingSubsets built by its own Prepare* methods and
// reports every request of a subset through exactly one terminal progress
// callback. I/O failures are reported, never returned or panicked.
//
// Capabilities:
//   - Backend: store and delete (every backend)
//   - Online: direct retrieval, no staging
//   - Nearline: restoration into an internal or external cache
//   - PeriodicActor: resolves pending actions in a background sweep
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/marmos91/dittostore/pkg/command"
	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/marmos91/dittostore/pkg/request"
	"github.com/marmos91/dittostore/pkg/state"
)

var (
	// ErrNotFound is returned by Retrieve and Availability for unknown locations.
	ErrNotFound = errors.New("location not found")

	// ErrPanic wraps a panic recovered while processing one request.
	ErrPanic = errors.New("backend panicked")

	// ErrInvalidURL is returned for locations the backend does not own.
	ErrInvalidURL = errors.New("invalid location url")
)

// Backend is implemented by every storage location.
type Backend interface {
	// Name is the configured instance name.
	Name() string

	// Type is the backend type identifier ("local", "s3", "glacier").
	Type() string

	// PrepareForStorage partitions requests into subsets the backend accepts.
	// Requests it cannot handle are returned as rejections, never dropped.
	PrepareForStorage(reqs []request.StoreRequest) ([]request.WorkingSubset[request.StoreRequest], []request.Rejection[request.StoreRequest])

	// Store writes every request of subset and reports each through p.
	Store(ctx context.Context, subset request.WorkingSubset[request.StoreRequest], p progress.Store)

	// PrepareForDeletion partitions delete requests into subsets.
	PrepareForDeletion(reqs []request.DeleteRequest) []request.WorkingSubset[request.DeleteRequest]

	// Delete removes every request of subset and reports each through p.
	// Removing a missing location succeeds.
	Delete(ctx context.Context, subset request.WorkingSubset[request.DeleteRequest], p progress.Delete)

	// AllowPhysicalDeletion reports whether Delete removes bytes.
	AllowPhysicalDeletion() bool

	// HasPeriodicAction reports whether the backend implements PeriodicActor.
	HasPeriodicAction() bool

	// IsValidURL validates a location without side effects. Problems are
	// appended to errs, which may be nil.
	IsValidURL(url string, errs *URLErrors) bool

	Close() error
}

// Online backends serve bytes directly.
type Online interface {
	Backend

	// Retrieve opens the stored file. The caller closes the stream.
	Retrieve(ctx context.Context, url string) (io.ReadCloser, error)
}

// Nearline backends stage files into a cache before they can be read.
type Nearline interface {
	Backend

	PrepareForRestoration(reqs []request.RestoreRequest) []request.WorkingSubset[request.RestoreRequest]

	// Restore stages every request of subset and reports each through p.
	Restore(ctx context.Context, subset request.WorkingSubset[request.RestoreRequest], p progress.Restore)

	// IsInternalCache reports whether restored files land on the local
	// filesystem (true) or stay in the provider's cache (false).
	IsInternalCache() bool

	// Availability queries the restoration status without triggering one.
	Availability(ctx context.Context, url string) (command.GlacierFileStatus, error)
}

// PeriodicActor backends settle pending actions in background sweeps.
type PeriodicActor interface {
	RunPeriodicAction(ctx context.Context, p progress.Periodic) error
}

// Deps are the shared collaborators handed to backend factories.
type Deps struct {
	// Executor runs storage commands (required by object store backends)
	Executor *executor.Executor

	// Cache indexes restored files (required by nearline backends)
	Cache state.CacheIndex

	// Pending persists pending actions (required by nearline backends)
	Pending state.PendingStore

	// Metrics observes progress callbacks (nil disables)
	Metrics progress.Metrics

	// Now is the clock (default: time.Now)
	Now func() time.Time
}

// Clock returns d.Now or time.Now.
func (d Deps) Clock() func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}

// Factory builds a backend instance from its decoded configuration options.
type Factory func(ctx context.Context, name string, options map[string]any, deps Deps) (Backend, error)

// URLErrors collects validation problems. The zero value is ready to use.
type URLErrors struct {
	problems []string
}

// Add records a problem. Safe on a nil receiver.
func (e *URLErrors) Add(format string, args ...any) {
	if e == nil {
		return
	}
	e.problems = append(e.problems, fmt.Sprintf(format, args...))
}

// Problems returns the recorded problems.
func (e *URLErrors) Problems() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.problems...)
}

// Err returns nil when nothing was recorded.
func (e *URLErrors) Err() error {
	if e == nil || len(e.problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidURL, strings.Join(e.problems, "; "))
}
