package glacier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/backend"
	s3backend "github.com/marmos91/dittostore/pkg/backend/s3"
	"github.com/marmos91/dittostore/pkg/command"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/marmos91/dittostore/pkg/request"
	"github.com/marmos91/dittostore/pkg/state"
)

// ============================================================================
// Restore
// ============================================================================

// PrepareForRestoration groups requests by target cache directory, then
// batches them by MaxBatchSize.
func (b *Backend) PrepareForRestoration(reqs []request.RestoreRequest) []request.WorkingSubset[request.RestoreRequest] {
	return backend.Partition(b.Name()+"-restore", reqs, b.opts.MaxBatchSize, func(r request.RestoreRequest) string {
		return b.cacheDir(r)
	})
}

// Restore stages every request of subset into the configured cache.
//
// A usable cache entry is handed out directly. Otherwise the object is
// restored (or restored again when the previous copy expires within
// ExpiryMargin) and the call waits for the restoration, polling every
// PollInterval for at most RestoreTimeout per request.
func (b *Backend) Restore(ctx context.Context, subset request.WorkingSubset[request.RestoreRequest], p progress.Restore) {
	tracker := progress.TrackRestore(p, subset.Requests, b.objects.Metrics())
	defer tracker.Close()

	backend.ForEach(ctx, b.opts.Workers, subset.Requests, func(ctx context.Context, r request.RestoreRequest) {
		entry, err := b.restoreOne(ctx, subset.Name, r)
		if err != nil {
			logger.Warn("Restore failed: backend=%s request=%s url=%s error=%v", b.Name(), r.ID, r.URL, err)
			tracker.RestoreFailed(r, err)
			return
		}

		if entry.Kind == state.CacheInternal {
			tracker.RestoreSucceededInternalCache(r, entry.Location)
			return
		}
		var expiresAt *time.Time
		if !entry.ExpiresAt.IsZero() {
			t := entry.ExpiresAt
			expiresAt = &t
		}
		tracker.RestoreSucceededExternalCache(r, entry.Location, entry.Size, expiresAt)
	}, func(r request.RestoreRequest, err error) {
		tracker.RestoreFailed(r, err)
	})
}

func (b *Backend) restoreOne(ctx context.Context, taskID string, r request.RestoreRequest) (state.CacheEntry, error) {
	if r.Checksum.IsZero() {
		return state.CacheEntry{}, errors.New("missing checksum")
	}
	key, err := b.objects.KeyFromURL(r.URL)
	if err != nil {
		return state.CacheEntry{}, err
	}

	cacheKey := b.cacheKey(r.Checksum)
	if entry, ok := b.cached(ctx, cacheKey, r); ok {
		logger.Debug("Restore served from cache: backend=%s request=%s location=%s", b.Name(), r.ID, entry.Location)
		return entry, nil
	}

	status, err := b.awaitAvailable(ctx, key)
	if err != nil {
		return state.CacheEntry{}, err
	}

	entry := state.CacheEntry{
		Checksum:   normalize(r.Checksum),
		Backend:    b.Name(),
		RestoredAt: b.now(),
	}

	if b.IsInternalCache() {
		// Step 1: download into the cache directory
		target := filepath.Join(b.cacheDir(r), r.Checksum.Value)
		size, err := b.download(ctx, taskID, key, target, r)
		if err != nil {
			return state.CacheEntry{}, err
		}
		b.evictOther(ctx, cacheKey, target)

		// Step 2: index it
		entry.Kind = state.CacheInternal
		entry.Location = target
		entry.Size = size
		entry.ExpiresAt = entry.RestoredAt.Add(b.opts.InternalCacheTTL)
	} else {
		entry.Kind = state.CacheExternal
		entry.Location = b.objects.ObjectURL(key)
		entry.Size = r.FileSize
		if status.Size != nil {
			entry.Size = *status.Size
		}
		if status.ExpiresAt != nil {
			entry.ExpiresAt = *status.ExpiresAt
		}
	}

	if err := b.cache.Put(ctx, entry); err != nil {
		// The copy is usable, it is just not remembered
		logger.Warn("Failed to index restored file: backend=%s key=%s error=%v", b.Name(), cacheKey, err)
	}
	return entry, nil
}

// cached returns the indexed copy of r when it can still be handed out.
func (b *Backend) cached(ctx context.Context, cacheKey string, r request.RestoreRequest) (state.CacheEntry, bool) {
	entry, err := b.cache.Get(ctx, cacheKey)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			logger.Warn("Cache index lookup failed: backend=%s key=%s error=%v", b.Name(), cacheKey, err)
		}
		return state.CacheEntry{}, false
	}

	wantKind := state.CacheExternal
	if b.IsInternalCache() {
		wantKind = state.CacheInternal
	}
	if entry.Kind != wantKind || !entry.UsableAt(b.now(), b.opts.ExpiryMargin) {
		return state.CacheEntry{}, false
	}

	if entry.Kind == state.CacheInternal {
		if filepath.Dir(entry.Location) != filepath.Clean(b.cacheDir(r)) {
			return state.CacheEntry{}, false
		}
		if _, err := os.Stat(entry.Location); err != nil {
			logger.Warn("Indexed cache file is gone: %s", entry.Location)
			return state.CacheEntry{}, false
		}
	}
	return entry, true
}

// awaitAvailable requests a restoration when needed and polls until the
// object is readable for longer than ExpiryMargin.
func (b *Backend) awaitAvailable(ctx context.Context, key string) (command.GlacierFileStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.RestoreTimeout)
	defer cancel()

	exec := b.objects.Executor()
	cfg := b.objects.Config()
	requested := false

	for {
		status, err := exec.Status(ctx, cfg, key, b.opts.StandardStorageClass)
		if err != nil {
			if s3backend.IsNotFound(err) {
				return command.GlacierFileStatus{}, fmt.Errorf("%s: %w", key, backend.ErrNotFound)
			}
			return command.GlacierFileStatus{}, b.timeoutErr(ctx, key, err)
		}
		status = status.At(b.now())

		switch status.Status {
		case command.Available:
			if b.fresh(status) {
				return status, nil
			}
			// About to expire: ask for a new copy once
			if !requested {
				if err := b.requestRestore(ctx, cfg, key); err != nil {
					return command.GlacierFileStatus{}, b.timeoutErr(ctx, key, err)
				}
				requested = true
			}
		case command.RestorePending:
			requested = true
		case command.NotAvailable, command.Expired:
			if err := b.requestRestore(ctx, cfg, key); err != nil {
				return command.GlacierFileStatus{}, b.timeoutErr(ctx, key, err)
			}
			requested = true
		}

		if err := wait(ctx, b.opts.PollInterval); err != nil {
			return command.GlacierFileStatus{}, b.timeoutErr(ctx, key, err)
		}
	}
}

func (b *Backend) requestRestore(ctx context.Context, cfg command.StorageConfig, key string) error {
	logger.Info("Requesting restoration: backend=%s key=%s days=%d", b.Name(), key, b.opts.RestoreDays)
	return b.objects.Executor().Restore(ctx, cfg, key, int32(b.opts.RestoreDays))
}

// fresh reports whether an Available status outlives the expiry margin.
func (b *Backend) fresh(status command.GlacierFileStatus) bool {
	if status.ExpiresAt == nil {
		return true
	}
	return b.now().Add(b.opts.ExpiryMargin).Before(*status.ExpiresAt)
}

func (b *Backend) timeoutErr(ctx context.Context, key string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("restoration of %s did not complete within %s: %w", key, b.opts.RestoreTimeout, err)
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// download streams a restored object into target, verifying size and
// checksum.
func (b *Backend) download(ctx context.Context, taskID, key, target string, r request.RestoreRequest) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cmd := command.NewRead(b.objects.Config(), taskID, "")
	cmd.Key = key

	type downloaded struct {
		size int64
		err  error
	}
	out := command.MatchRead(b.objects.Executor().Read(ctx, cmd),
		func(p command.ReadPipe) downloaded {
			rc, err := p.Entry.Open()
			if err != nil {
				return downloaded{err: err}
			}
			defer rc.Close()

			size := command.UnknownSize
			if r.FileSize > 0 {
				size = r.FileSize
			}
			_, n, err := backend.WriteFileVerified(ctx, target, rc, normalize(r.Checksum), size)
			return downloaded{size: n, err: err}
		},
		func(command.ReadNotFound) downloaded {
			return downloaded{err: fmt.Errorf("%s: %w", key, backend.ErrNotFound)}
		},
		func(u command.Unreachable) downloaded { return downloaded{err: u} },
	)
	return out.size, out.err
}

// evictOther removes the file of a previous entry under cacheKey when it
// lives somewhere else than keep.
func (b *Backend) evictOther(ctx context.Context, cacheKey, keep string) {
	entry, err := b.cache.Get(ctx, cacheKey)
	if err != nil || entry.Kind != state.CacheInternal || entry.Location == keep {
		return
	}
	if err := os.Remove(entry.Location); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove superseded cache file %s: %v", entry.Location, err)
	}
}

func (b *Backend) cacheDir(r request.RestoreRequest) string {
	if r.CacheDir != "" {
		return r.CacheDir
	}
	return b.opts.CachePath
}

// normalize defaults a missing algorithm to MD5, the algorithm origins are
// verified with.
func normalize(sum command.Checksum) command.Checksum {
	if alg, err := command.ParseAlgorithm(string(sum.Algorithm)); err == nil {
		sum.Algorithm = alg
	}
	return sum
}

func (b *Backend) cacheKey(sum command.Checksum) string {
	return state.CacheKey(b.Name(), normalize(sum))
}
