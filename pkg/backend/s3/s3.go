// Package s3 implements an online storage location on an S3-compatible
// object store. Every I/O goes through the command executor, so retries,
// integrity checks and cleanup of partial uploads follow the executor rules.
//
// Objects are content-addressed under the configured root path:
//
//	s3://<bucket>/<root_path>/<sub_directory>/<checksum>
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/backend"
	"github.com/marmos91/dittostore/pkg/command"
	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/marmos91/dittostore/pkg/request"
)

// Type is the backend type identifier.
const Type = "s3"

const urlScheme = "s3://"

// Options configures an S3 backend.
type Options struct {
	backend.CommonOptions `mapstructure:",squash"`

	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RootPath        string `mapstructure:"root_path"`

	// MaxRetries is the number of retries after the first attempt (default: 4)
	MaxRetries int `mapstructure:"max_retries"`

	// BackoffBase and BackoffMax bound the wait between attempts (default: 1s, 10s)
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// DefaultOptions returns the defaults, to be overridden by decoding.
func DefaultOptions() Options {
	return Options{
		CommonOptions: backend.DefaultCommonOptions(),
		MaxRetries:    command.DefaultMaxRetries,
		BackoffBase:   command.DefaultRetryBackOffBase,
		BackoffMax:    command.DefaultRetryBackOffMax,
	}
}

// StorageConfig builds the command configuration of the options.
func (o Options) StorageConfig() command.StorageConfig {
	return command.StorageConfig{
		Endpoint:         o.Endpoint,
		Region:           o.Region,
		AccessKeyID:      o.AccessKeyID,
		SecretAccessKey:  o.SecretAccessKey,
		Bucket:           o.Bucket,
		RootPath:         o.RootPath,
		MaxRetries:       o.MaxRetries,
		RetryBackOffBase: o.BackoffBase,
		RetryBackOffMax:  o.BackoffMax,
	}
}

// Backend stores files in an S3 bucket.
type Backend struct {
	name    string
	typ     string
	opts    Options
	cfg     command.StorageConfig
	exec    *executor.Executor
	metrics progress.Metrics
}

// Factory builds an S3 backend from raw options.
func Factory(ctx context.Context, name string, options map[string]any, deps backend.Deps) (backend.Backend, error) {
	opts := DefaultOptions()
	if err := backend.DecodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("s3 backend %s: %w", name, err)
	}
	return New(ctx, name, opts, deps)
}

// New validates the options and returns the backend.
//
// Parameters:
//   - ctx: checked before construction
//   - name: instance name
//   - opts: connection and retry settings, Bucket is required
//   - deps: Executor is required, Metrics is optional
//
// Returns:
//   - *Backend: ready backend
//   - error: invalid options or missing executor
func New(ctx context.Context, name string, opts Options, deps backend.Deps) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("s3 backend %s: executor is required", name)
	}
	cfg := opts.StorageConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("s3 backend %s: %w", name, err)
	}

	logger.Info("S3 backend initialized: name=%s %s", name, cfg)

	return &Backend{name: name, typ: Type, opts: opts, cfg: cfg, exec: deps.Executor, metrics: deps.Metrics}, nil
}

func (b *Backend) Name() string                { return b.name }
func (b *Backend) Type() string                { return b.typ }
func (b *Backend) AllowPhysicalDeletion() bool { return b.opts.AllowPhysicalDeletion }
func (b *Backend) HasPeriodicAction() bool     { return false }
func (b *Backend) Close() error                { return nil }

// Config returns the storage configuration shared by every command.
func (b *Backend) Config() command.StorageConfig { return b.cfg }

// Options returns the decoded options.
func (b *Backend) Options() Options { return b.opts }

// Executor returns the command executor.
func (b *Backend) Executor() *executor.Executor { return b.exec }

// Metrics returns the progress metrics (may be nil).
func (b *Backend) Metrics() progress.Metrics { return b.metrics }

// WithType returns a copy reporting typ as its type identifier, for
// backends layered on this one.
func (b *Backend) WithType(typ string) *Backend {
	c := *b
	c.typ = typ
	return &c
}

// ============================================================================
// Locations
// ============================================================================

// ObjectURL returns the location URL of a resolved object key.
func (b *Backend) ObjectURL(key string) string {
	return urlScheme + b.cfg.Bucket + "/" + key
}

// KeyFromURL extracts the object key of a location URL owned by this backend.
func (b *Backend) KeyFromURL(url string) (string, error) {
	rest, ok := strings.CutPrefix(url, urlScheme)
	if !ok {
		return "", fmt.Errorf("%w: %s: scheme must be %s", backend.ErrInvalidURL, url, urlScheme)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %s: missing object key", backend.ErrInvalidURL, url)
	}
	if bucket != b.cfg.Bucket {
		return "", fmt.Errorf("%w: %s: bucket %q is not %q", backend.ErrInvalidURL, url, bucket, b.cfg.Bucket)
	}
	if root := b.cfg.NormalizedRoot(); root != "" && !strings.HasPrefix(key, root) {
		return "", fmt.Errorf("%w: %s: key is outside root path %q", backend.ErrInvalidURL, url, root)
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %s: key must not contain '..'", backend.ErrInvalidURL, url)
	}
	return key, nil
}

// IsValidURL accepts s3:// URLs in the configured bucket and root path.
func (b *Backend) IsValidURL(url string, errs *backend.URLErrors) bool {
	if _, err := b.KeyFromURL(url); err != nil {
		errs.Add("%v", err)
		return false
	}
	return true
}

// entrySuffix is the key suffix of a store request, relative to the root.
func entrySuffix(r request.StoreRequest) string {
	return path.Join(r.SubDirectory, r.Checksum.Value)
}

// ============================================================================
// Store
// ============================================================================

// PrepareForStorage rejects malformed requests and batches the rest.
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

// Store uploads every origin file.
func (b *Backend) Store(ctx context.Context, subset request.WorkingSubset[request.StoreRequest], p progress.Store) {
	tracker := progress.TrackStore(p, subset.Requests, b.metrics)
	defer tracker.Close()

	backend.ForEach(ctx, b.opts.Workers, subset.Requests, func(ctx context.Context, r request.StoreRequest) {
		result, err := b.WriteRequest(ctx, subset.Name, r)
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

// WriteRequest uploads the origin of r and returns the stored location.
// taskID correlates the command in logs.
func (b *Backend) WriteRequest(ctx context.Context, taskID string, r request.StoreRequest) (request.StoreResult, error) {
	entry, err := backend.OpenOrigin(b.cfg, r)
	if err != nil {
		return request.StoreResult{}, err
	}
	sum := r.Checksum
	if sum.Algorithm == "" {
		sum.Algorithm = command.MD5
	}

	cmd := command.NewWrite(b.cfg, taskID, entrySuffix(r), entry, &sum)
	res := b.exec.Write(ctx, cmd)

	type outcome struct {
		result request.StoreResult
		err    error
	}
	out := command.MatchWrite(res,
		func(s command.WriteSuccess) outcome {
			return outcome{result: request.StoreResult{
				Request:  r,
				URL:      b.ObjectURL(cmd.Key),
				FileSize: s.Size,
				Checksum: s.Checksum,
			}}
		},
		func(f command.WriteFailure) outcome { return outcome{err: f} },
		func(u command.Unreachable) outcome { return outcome{err: u} },
	)
	return out.result, out.err
}

// ============================================================================
// Delete
// ============================================================================

// PrepareForDeletion batches requests by MaxBatchSize.
func (b *Backend) PrepareForDeletion(reqs []request.DeleteRequest) []request.WorkingSubset[request.DeleteRequest] {
	return backend.Partition(b.name+"-delete", reqs, b.opts.MaxBatchSize, func(request.DeleteRequest) string { return "" })
}

// Delete removes stored objects. Missing objects succeed. With physical
// deletion disabled objects are kept and the deletion is reported as done.
func (b *Backend) Delete(ctx context.Context, subset request.WorkingSubset[request.DeleteRequest], p progress.Delete) {
	tracker := progress.TrackDelete(p, subset.Requests, b.metrics)
	defer tracker.Close()

	backend.ForEach(ctx, b.opts.Workers, subset.Requests, func(ctx context.Context, r request.DeleteRequest) {
		key, err := b.KeyFromURL(r.URL)
		if err == nil && b.opts.AllowPhysicalDeletion {
			err = b.DeleteObject(ctx, subset.Name, key)
		}
		if err != nil {
			logger.Warn("Delete failed: backend=%s request=%s url=%s error=%v", b.name, r.ID, r.URL, err)
			tracker.DeletionFailed(r, err)
			return
		}
		tracker.DeletionSucceeded(r)
	}, func(r request.DeleteRequest, err error) {
		tracker.DeletionFailed(r, err)
	})
}

// DeleteObject removes one resolved key. A missing key is not an error.
func (b *Backend) DeleteObject(ctx context.Context, taskID, key string) error {
	cmd := command.NewDelete(b.cfg, taskID, "")
	cmd.Key = key

	return command.MatchDelete(b.exec.Delete(ctx, cmd),
		func(command.DeleteSuccess) error { return nil },
		func(f command.DeleteFailure) error { return f },
		func(u command.Unreachable) error { return u },
	)
}

// ============================================================================
// Retrieve
// ============================================================================

// Retrieve streams a stored object. ctx must stay alive until the stream is
// closed.
func (b *Backend) Retrieve(ctx context.Context, url string) (io.ReadCloser, error) {
	key, err := b.KeyFromURL(url)
	if err != nil {
		return nil, err
	}
	cmd := command.NewRead(b.cfg, "retrieve", "")
	cmd.Key = key

	type opened struct {
		rc  io.ReadCloser
		err error
	}
	out := command.MatchRead(b.exec.Read(ctx, cmd),
		func(p command.ReadPipe) opened {
			rc, err := p.Entry.Open()
			return opened{rc, err}
		},
		func(command.ReadNotFound) opened {
			return opened{err: fmt.Errorf("%s: %w", url, backend.ErrNotFound)}
		},
		func(u command.Unreachable) opened { return opened{err: u} },
	)
	return out.rc, out.err
}

// IsNotFound reports whether err means the location does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, backend.ErrNotFound) || errors.Is(err, executor.ErrNotFound)
}

var _ backend.Online = (*Backend)(nil)
