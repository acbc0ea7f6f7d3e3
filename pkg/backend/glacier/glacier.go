// Package glacier implements a nearline storage location on an S3 bucket
// whose objects transition to an archive storage class.
//
// Stored files are written like the s3 backend does and reported as
// succeeded with a pending action: the transition to the archive class is
// confirmed later by the periodic action. Deletions are queued and flushed
// by the periodic action as well.
//
// Archived objects must be restored before they can be read. A restored file
// is served either from the internal cache (downloaded to a local directory)
// or from the external cache (the restored object itself, readable until the
// expiry announced by the store). Cached copies about to expire are restored
// again rather than handed out.
package glacier

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/backend"
	s3backend "github.com/marmos91/dittostore/pkg/backend/s3"
	"github.com/marmos91/dittostore/pkg/command"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/marmos91/dittostore/pkg/request"
	"github.com/marmos91/dittostore/pkg/state"
)

// Type is the backend type identifier.
const Type = "glacier"

// Backend is a nearline S3 storage location.
type Backend struct {
	objects *s3backend.Backend
	opts    Options
	cache   state.CacheIndex
	pending state.PendingStore
	now     func() time.Time
}

// Factory builds a glacier backend from raw options.
func Factory(ctx context.Context, name string, options map[string]any, deps backend.Deps) (backend.Backend, error) {
	opts := DefaultOptions()
	if err := backend.DecodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("glacier backend %s: %w", name, err)
	}
	return New(ctx, name, opts, deps)
}

// New validates the options and returns the backend.
//
// Parameters:
//   - ctx: checked before construction
//   - name: instance name
//   - opts: connection and nearline settings
//   - deps: Executor, Cache and Pending are required
//
// Returns:
//   - *Backend: ready backend
//   - error: invalid options or missing collaborators
func New(ctx context.Context, name string, opts Options, deps backend.Deps) (*Backend, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("glacier backend %s: %w", name, err)
	}
	if deps.Cache == nil || deps.Pending == nil {
		return nil, fmt.Errorf("glacier backend %s: cache index and pending store are required", name)
	}

	objects, err := s3backend.New(ctx, name, opts.Options, deps)
	if err != nil {
		return nil, err
	}

	if state.CacheKind(opts.CacheKind) == state.CacheInternal {
		if err := os.MkdirAll(opts.CachePath, 0755); err != nil {
			return nil, fmt.Errorf("glacier backend %s: failed to create cache directory: %w", name, err)
		}
	}

	logger.Info("Glacier backend initialized: name=%s cache=%s restore_days=%d standard_class=%s",
		name, opts.CacheKind, opts.RestoreDays, opts.StandardStorageClass)

	return &Backend{
		objects: objects.WithType(Type),
		opts:    opts,
		cache:   deps.Cache,
		pending: deps.Pending,
		now:     deps.Clock(),
	}, nil
}

func (b *Backend) Name() string                { return b.objects.Name() }
func (b *Backend) Type() string                { return Type }
func (b *Backend) AllowPhysicalDeletion() bool { return b.opts.AllowPhysicalDeletion }
func (b *Backend) HasPeriodicAction() bool     { return true }
func (b *Backend) Close() error                { return nil }

// IsInternalCache reports whether restored files are downloaded locally.
func (b *Backend) IsInternalCache() bool {
	return state.CacheKind(b.opts.CacheKind) == state.CacheInternal
}

// IsValidURL accepts s3:// URLs in the configured bucket and root path.
func (b *Backend) IsValidURL(url string, errs *backend.URLErrors) bool {
	return b.objects.IsValidURL(url, errs)
}

// ============================================================================
// Store
// ============================================================================

func (b *Backend) PrepareForStorage(reqs []request.StoreRequest) ([]request.WorkingSubset[request.StoreRequest], []request.Rejection[request.StoreRequest]) {
	return b.objects.PrepareForStorage(reqs)
}

// Store uploads every origin file and queues the confirmation of its
// transition to the archive class.
func (b *Backend) Store(ctx context.Context, subset request.WorkingSubset[request.StoreRequest], p progress.Store) {
	tracker := progress.TrackStore(p, subset.Requests, b.objects.Metrics())
	defer tracker.Close()

	backend.ForEach(ctx, b.opts.Workers, subset.Requests, func(ctx context.Context, r request.StoreRequest) {
		result, err := b.storeOne(ctx, subset.Name, r)
		if err != nil {
			logger.Warn("Store failed: backend=%s request=%s file=%s error=%v", b.Name(), r.ID, r.FileName, err)
			tracker.StoreFailed(r, err)
			return
		}
		tracker.StoreSucceededWithPendingAction(result)
	}, func(r request.StoreRequest, err error) {
		tracker.StoreFailed(r, err)
	})
}

func (b *Backend) storeOne(ctx context.Context, taskID string, r request.StoreRequest) (request.StoreResult, error) {
	result, err := b.objects.WriteRequest(ctx, taskID, r)
	if err != nil {
		return request.StoreResult{}, err
	}

	key, err := b.objects.KeyFromURL(result.URL)
	if err != nil {
		return request.StoreResult{}, err
	}

	err = b.pending.Add(ctx, state.PendingAction{
		Backend: b.Name(),
		URL:     result.URL,
		Kind:    state.ActionTier,
		Key:     key,
		Since:   b.now(),
	})
	if err != nil {
		// No untracked object may remain
		if derr := b.objects.DeleteObject(context.WithoutCancel(ctx), taskID, key); derr != nil {
			logger.Error("Failed to remove untracked object: backend=%s key=%s error=%v", b.Name(), key, derr)
		}
		return request.StoreResult{}, fmt.Errorf("failed to queue tiering confirmation: %w", err)
	}
	return result, nil
}

// ============================================================================
// Delete
// ============================================================================

func (b *Backend) PrepareForDeletion(reqs []request.DeleteRequest) []request.WorkingSubset[request.DeleteRequest] {
	return b.objects.PrepareForDeletion(reqs)
}

// Delete drops cached copies and queues the physical deletion for the next
// periodic action. With physical deletion disabled the object is kept and
// the deletion is reported as done.
func (b *Backend) Delete(ctx context.Context, subset request.WorkingSubset[request.DeleteRequest], p progress.Delete) {
	tracker := progress.TrackDelete(p, subset.Requests, b.objects.Metrics())
	defer tracker.Close()

	backend.ForEach(ctx, b.opts.Workers, subset.Requests, func(ctx context.Context, r request.DeleteRequest) {
		key, err := b.objects.KeyFromURL(r.URL)
		if err != nil {
			tracker.DeletionFailed(r, err)
			return
		}

		if !r.Checksum.IsZero() {
			b.evict(ctx, b.cacheKey(r.Checksum))
		}

		if !b.opts.AllowPhysicalDeletion {
			tracker.DeletionSucceeded(r)
			return
		}

		err = b.pending.Add(ctx, state.PendingAction{
			Backend: b.Name(),
			URL:     r.URL,
			Kind:    state.ActionDelete,
			Key:     key,
			Since:   b.now(),
		})
		if err != nil {
			logger.Warn("Delete failed: backend=%s request=%s url=%s error=%v", b.Name(), r.ID, r.URL, err)
			tracker.DeletionFailed(r, fmt.Errorf("failed to queue deletion: %w", err))
			return
		}
		tracker.DeletionSucceededWithPendingAction(r)
	}, func(r request.DeleteRequest, err error) {
		tracker.DeletionFailed(r, err)
	})
}

// evict removes a cache index entry and its internal file, if any.
func (b *Backend) evict(ctx context.Context, cacheKey string) {
	entry, err := b.cache.Get(ctx, cacheKey)
	if err != nil {
		return
	}
	if entry.Kind == state.CacheInternal {
		if err := os.Remove(entry.Location); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove cached file %s: %v", entry.Location, err)
			return
		}
	}
	if err := b.cache.Delete(ctx, cacheKey); err != nil {
		logger.Warn("Failed to drop cache entry %s: %v", cacheKey, err)
	}
}

// ============================================================================
// Availability
// ============================================================================

// Availability queries the restoration status of a location without
// requesting a restoration.
func (b *Backend) Availability(ctx context.Context, url string) (command.GlacierFileStatus, error) {
	key, err := b.objects.KeyFromURL(url)
	if err != nil {
		return command.GlacierFileStatus{}, err
	}
	status, err := b.objects.Executor().Status(ctx, b.objects.Config(), key, b.opts.StandardStorageClass)
	if err != nil {
		if s3backend.IsNotFound(err) {
			return command.GlacierFileStatus{}, fmt.Errorf("%s: %w", url, backend.ErrNotFound)
		}
		return command.GlacierFileStatus{}, err
	}
	return status.At(b.now()), nil
}

var (
	_ backend.Nearline      = (*Backend)(nil)
	_ backend.PeriodicActor = (*Backend)(nil)
)
