// Package local implements an online storage location on the local
// filesystem.
//
// Files are stored content-addressed under the base path:
//
//	<base_path>/<sub_directory>/<checksum>
//
// and addressed by file:// URLs. Writes go to a temporary file that is
// verified (size and checksum) and renamed into place, so a failed store
// never leaves a partial file behind.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/backend"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/marmos91/dittostore/pkg/request"
)

// Type is the backend type identifier.
const Type = "local"

const urlScheme = "file://"

// Options configures a local backend.
type Options struct {
	backend.CommonOptions `mapstructure:",squash"`

	// BasePath is the root directory of stored files (required)
	BasePath string `mapstructure:"base_path"`
}

// Backend stores files on the local filesystem.
//
// Thread Safety: Safe for concurrent use. Concurrent stores of the same
// content converge on the same file.
type Backend struct {
	name     string
	opts     Options
	basePath string
	metrics  progress.Metrics
}

// Factory builds a local backend from raw options.
func Factory(ctx context.Context, name string, options map[string]any, deps backend.Deps) (backend.Backend, error) {
	opts := Options{CommonOptions: backend.DefaultCommonOptions()}
	if err := backend.DecodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("local backend %s: %w", name, err)
	}
	return New(ctx, name, opts, deps)
}

// New creates the base directory if needed and returns the backend.
//
// Parameters:
//   - ctx: checked before touching the filesystem
//   - name: instance name
//   - opts: backend options, BasePath is required
//   - deps: shared collaborators, only Metrics is used
//
// Returns:
//   - *Backend: ready backend
//   - error: if the base path is missing or cannot be created
func New(ctx context.Context, name string, opts Options, deps backend.Deps) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.BasePath == "" {
		return nil, fmt.Errorf("local backend %s: base_path is required", name)
	}

	base, err := filepath.Abs(opts.BasePath)
	if err != nil {
		return nil, fmt.Errorf("local backend %s: invalid base_path: %w", name, err)
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("local backend %s: failed to create base directory: %w", name, err)
	}

	logger.Info("Local backend initialized: name=%s base_path=%s", name, base)

	return &Backend{name: name, opts: opts, basePath: base, metrics: deps.Metrics}, nil
}

func (b *Backend) Name() string                { return b.name }
func (b *Backend) Type() string                { return Type }
func (b *Backend) AllowPhysicalDeletion() bool { return b.opts.AllowPhysicalDeletion }
func (b *Backend) HasPeriodicAction() bool     { return false }
func (b *Backend) Close() error                { return nil }

// URL returns the location URL of a stored file path.
func (b *Backend) URL(path string) string {
	return urlScheme + filepath.ToSlash(path)
}

// path resolves a location URL to a file path inside the base path.
func (b *Backend) path(url string) (string, error) {
	raw, ok := strings.CutPrefix(url, urlScheme)
	if !ok {
		return "", fmt.Errorf("%w: %s: scheme must be %s", backend.ErrInvalidURL, url, urlScheme)
	}
	p := filepath.Clean(filepath.FromSlash(raw))
	rel, err := filepath.Rel(b.basePath, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", backend.ErrInvalidURL, url, b.basePath)
	}
	return p, nil
}

// IsValidURL accepts file:// URLs of files inside the base path.
func (b *Backend) IsValidURL(url string, errs *backend.URLErrors) bool {
	if _, err := b.path(url); err != nil {
		errs.Add("%v", err)
		return false
	}
	return true
}

// ============================================================================
// Store
// ============================================================================

// PrepareForStorage rejects malformed requests and groups the rest by
// destination directory.
func (b *Backend) PrepareForStorage(reqs []request.StoreRequest) ([]request.WorkingSubset[request.StoreRequest], []request.Rejection[request.StoreRequest]) {
	var accepted []request.StoreRequest
	var rejected []request.Rejection[request.StoreRequest]
	for _, r := range reqs {
		if reason := backend.CheckStoreRequest(r); reason != "" {
			rejected = append(rejected, request.Rejection[request.StoreRequest]{Request: r, Reason: reason})
			continue
		}
		accepted = append(accepted, r)
	}
	subsets := backend.Partition(b.name+"-store", accepted, b.opts.MaxBatchSize, func(r request.StoreRequest) string {
		return r.SubDirectory
	})
	return subsets, rejected
}

// Store copies every origin file into the base path.
func (b *Backend) Store(ctx context.Context, subset request.WorkingSubset[request.StoreRequest], p progress.Store) {
	tracker := progress.TrackStore(p, subset.Requests, b.metrics)
	defer tracker.Close()

	logger.Debug("Storing subset: backend=%s subset=%s requests=%d", b.name, subset.Name, subset.Len())

	backend.ForEach(ctx, b.opts.Workers, subset.Requests, func(ctx context.Context, r request.StoreRequest) {
		result, err := b.storeOne(ctx, r)
		if err != nil {
			logger.Warn("Store failed: backend=%s request=%s file=%s error=%v", b.name, r.ID, r.FileName, err)
			tracker.StoreFailed(r, err)
			return
		}
		tracker.StoreSucceeded(result)
	}, func(r request.StoreRequest, err error) {
		tracker.StoreFailed(r, err)
	})
}

func (b *Backend) storeOne(ctx context.Context, r request.StoreRequest) (request.StoreResult, error) {
	if err := ctx.Err(); err != nil {
		return request.StoreResult{}, err
	}

	src, err := backend.OriginPath(r.OriginURL)
	if err != nil {
		return request.StoreResult{}, err
	}
	in, err := os.Open(src)
	if err != nil {
		return request.StoreResult{}, fmt.Errorf("failed to open origin: %w", err)
	}
	defer in.Close()

	dst := filepath.Join(b.basePath, filepath.FromSlash(r.SubDirectory), r.Checksum.Value)
	sum, n, err := backend.WriteFileVerified(ctx, dst, in, r.Checksum, r.FileSize)
	if err != nil {
		return request.StoreResult{}, err
	}

	return request.StoreResult{Request: r, URL: b.URL(dst), FileSize: n, Checksum: sum}, nil
}

// ============================================================================
// Delete
// ============================================================================

// PrepareForDeletion batches requests by MaxBatchSize.
func (b *Backend) PrepareForDeletion(reqs []request.DeleteRequest) []request.WorkingSubset[request.DeleteRequest] {
	return backend.Partition(b.name+"-delete", reqs, b.opts.MaxBatchSize, func(request.DeleteRequest) string { return "" })
}

// Delete removes stored files. Missing files succeed. With physical deletion
// disabled, files are left in place and the deletion is reported as done.
func (b *Backend) Delete(ctx context.Context, subset request.WorkingSubset[request.DeleteRequest], p progress.Delete) {
	tracker := progress.TrackDelete(p, subset.Requests, b.metrics)
	defer tracker.Close()

	backend.ForEach(ctx, b.opts.Workers, subset.Requests, func(ctx context.Context, r request.DeleteRequest) {
		if err := b.deleteOne(ctx, r); err != nil {
			logger.Warn("Delete failed: backend=%s request=%s url=%s error=%v", b.name, r.ID, r.URL, err)
			tracker.DeletionFailed(r, err)
			return
		}
		tracker.DeletionSucceeded(r)
	}, func(r request.DeleteRequest, err error) {
		tracker.DeletionFailed(r, err)
	})
}

func (b *Backend) deleteOne(ctx context.Context, r request.DeleteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.path(r.URL)
	if err != nil {
		return err
	}
	if !b.opts.AllowPhysicalDeletion {
		logger.Debug("Physical deletion disabled, keeping file: backend=%s path=%s", b.name, path)
		return nil
	}

	err = os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// ============================================================================
// Retrieve
// ============================================================================

// Retrieve opens a stored file.
func (b *Backend) Retrieve(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := b.path(url)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", url, backend.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

var _ backend.Online = (*Backend)(nil)
