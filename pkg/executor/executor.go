// Package executor runs storage commands against S3-compatible object stores.
//
// The executor turns every outcome into one of the closed result variants of
// package command. It never panics and never returns a Go error from a
// command: transport problems become Unreachable after the retry budget of
// the command's StorageConfig is spent, well-formed absences become
// Absent/NotFound, integrity and conflict problems become Failure.
//
// Retry waits run on a timer inside the goroutine executing the command, so a
// backing-off command never occupies a shared worker.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/internal/ratelimiter"
	"github.com/marmos91/dittostore/pkg/command"
)

const (
	// DefaultPartSize is the multipart threshold and part size (10MB)
	DefaultPartSize int64 = 10 * 1024 * 1024

	// MinPartSize is the smallest part S3 accepts (5MB)
	MinPartSize int64 = 5 * 1024 * 1024

	// MaxPartSize is the largest part S3 accepts (5GB)
	MaxPartSize int64 = 5 * 1024 * 1024 * 1024

	// cleanupTimeout bounds abort/cleanup requests issued after a failure
	cleanupTimeout = 30 * time.Second
)

// Options configures an Executor. The zero value is usable.
type Options struct {
	// ClientFactory builds clients per connection settings (default: NewS3Client)
	ClientFactory ClientFactory

	// ClientTTL is how long a client stays cached (default: 5 minutes)
	ClientTTL time.Duration

	// PartSize is the multipart threshold and part size (default: 10MB).
	// Values below 5MB are only accepted with AllowSmallParts.
	PartSize int64

	// AllowSmallParts lifts the 5MB minimum, for stores that accept it and for tests
	AllowSmallParts bool

	// RequestsPerSecond throttles requests per endpoint and credentials
	// (0: unlimited). Retries consume tokens too.
	RequestsPerSecond float64

	// Burst is the number of requests allowed above the rate (default: RequestsPerSecond)
	Burst int

	// Metrics collects execution metrics (nil disables)
	Metrics Metrics

	// Rand returns a float in [0, 1) used for backoff jitter (default: math/rand/v2)
	Rand func() float64

	// Timer builds the timer used for backoff waits (default: real timer)
	Timer func() backoff.Timer

	// Now is the clock used for restoration expiry (default: time.Now)
	Now func() time.Time
}

// Executor executes storage commands. It is safe for concurrent use.
type Executor struct {
	clients  *clientCache
	limits   *ratelimiter.Group
	partSize int64
	metrics  Metrics
	rand     func() float64
	timer    func() backoff.Timer
	now      func() time.Time
}

// New creates an executor.
//
// Parameters:
//   - opts: Executor options (zero value uses real S3 clients)
//
// Returns:
//   - *Executor: Ready executor
//   - error: Returns error if the part size is out of range or the client cache fails
func New(opts Options) (*Executor, error) {
	partSize := opts.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	if partSize < MinPartSize && !opts.AllowSmallParts {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize <= 0 || partSize > MaxPartSize {
		return nil, fmt.Errorf("part size must be between 1 byte and 5GB, got %d bytes", partSize)
	}

	factory := opts.ClientFactory
	if factory == nil {
		factory = NewS3Client
	}
	ttl := opts.ClientTTL
	if ttl <= 0 {
		ttl = DefaultClientTTL
	}
	clients, err := newClientCache(factory, ttl)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		clients:  clients,
		limits:   ratelimiter.NewGroup(opts.RequestsPerSecond, opts.Burst),
		partSize: partSize,
		metrics:  opts.Metrics,
		rand:     opts.Rand,
		timer:    opts.Timer,
		now:      opts.Now,
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.rand == nil {
		e.rand = rand.Float64
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Close releases the client cache.
func (e *Executor) Close() error {
	e.clients.close()
	return nil
}

// Execute runs cmd and returns its result. The concrete type of the result
// is the variant set of the command kind (CheckResult for Check, ...).
func (e *Executor) Execute(ctx context.Context, cmd command.Command) command.Result {
	switch c := cmd.(type) {
	case command.Check:
		return e.Check(ctx, c)
	case command.Read:
		return e.Read(ctx, c)
	case command.Write:
		return e.Write(ctx, c)
	case command.Delete:
		return e.Delete(ctx, c)
	default:
		return command.Unreachable{Cmd: cmd, Err: fmt.Errorf("unsupported command %T", cmd)}
	}
}

// Submit runs cmd on its own goroutine. The channel receives exactly one
// result and is then closed.
func (e *Executor) Submit(ctx context.Context, cmd command.Command) <-chan command.Result {
	out := make(chan command.Result, 1)
	go func() {
		defer close(out)
		out <- e.Execute(ctx, cmd)
	}()
	return out
}

// ============================================================================
// Check
// ============================================================================

// Check issues a HEAD request for the entry key.
func (e *Executor) Check(ctx context.Context, cmd command.Check) (res command.CheckResult) {
	start := time.Now()
	defer e.finish(cmd, start, func() command.Result { return res }, func(err error) { res = command.Unreachable{Cmd: cmd, Err: err} })

	client, err := e.clients.get(ctx, cmd.Storage)
	if err != nil {
		return command.Unreachable{Cmd: cmd, Err: err}
	}

	err = e.retrier(cmd).do(ctx, "check", func(ctx context.Context) error {
		_, err := client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(cmd.Storage.Bucket),
			Key:    aws.String(cmd.Key),
		})
		return err
	})

	switch {
	case err == nil:
		return command.CheckPresent{Cmd: cmd}
	case classify(err) == classNotFound:
		return command.CheckAbsent{Cmd: cmd}
	default:
		return command.Unreachable{Cmd: cmd, Err: err}
	}
}

// ============================================================================
// Delete
// ============================================================================

// maxDeleteBatch is the DeleteObjects limit
const maxDeleteBatch = 1000

// Delete removes the entry key, or every key under it when cmd.Prefix is set.
// Removing an absent key succeeds.
func (e *Executor) Delete(ctx context.Context, cmd command.Delete) (res command.DeleteResult) {
	start := time.Now()
	defer e.finish(cmd, start, func() command.Result { return res }, func(err error) { res = command.Unreachable{Cmd: cmd, Err: err} })

	client, err := e.clients.get(ctx, cmd.Storage)
	if err != nil {
		return command.Unreachable{Cmd: cmd, Err: err}
	}

	if cmd.Prefix {
		if cmd.Key == "" {
			return command.DeleteFailure{Cmd: cmd, Err: errors.New("refusing to delete an empty prefix")}
		}
		err = e.deletePrefix(ctx, client, cmd)
	} else {
		err = e.retrier(cmd).do(ctx, "delete", func(ctx context.Context) error {
			_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(cmd.Storage.Bucket),
				Key:    aws.String(cmd.Key),
			})
			return err
		})
	}

	if err == nil {
		return command.DeleteSuccess{Cmd: cmd}
	}
	switch classify(err) {
	case classNotFound:
		return command.DeleteSuccess{Cmd: cmd}
	case classConflict:
		return command.DeleteFailure{Cmd: cmd, Err: fmt.Errorf("%w: %v", ErrConflict, err)}
	}
	var batchErr *batchDeleteError
	if errors.As(err, &batchErr) {
		return command.DeleteFailure{Cmd: cmd, Err: err}
	}
	return command.Unreachable{Cmd: cmd, Err: err}
}

// deletePrefix lists every key under cmd.Key and removes them in batches.
func (e *Executor) deletePrefix(ctx context.Context, client ObjectAPI, cmd command.Delete) error {
	r := e.retrier(cmd)
	bucket := aws.String(cmd.Storage.Bucket)

	var token *string
	deleted := 0
	for {
		var page *s3.ListObjectsV2Output
		err := r.do(ctx, "list", func(ctx context.Context) error {
			var err error
			page, err = client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            bucket,
				Prefix:            aws.String(cmd.Key),
				ContinuationToken: token,
				MaxKeys:           aws.Int32(maxDeleteBatch),
			})
			return err
		})
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(page.Contents))
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if len(keys) > 0 {
			if err := e.deleteBatch(ctx, r, client, cmd.Storage.Bucket, keys); err != nil {
				return err
			}
			deleted += len(keys)
		}

		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}

	logger.Debug("Deleted prefix: task_id=%s key=%s objects=%d", cmd.CmdID.TaskID, cmd.Key, deleted)
	return nil
}

func (e *Executor) finish(cmd command.Command, start time.Time, result func() command.Result, recovered func(error)) {
	if p := recover(); p != nil {
		logger.Error("Panic executing %s: task_id=%s command_id=%s key=%s panic=%v",
			cmd.Kind(), cmd.ID().TaskID, cmd.ID().ID, cmd.EntryKey(), p)
		recovered(fmt.Errorf("panic: %v", p))
	}

	res := result()
	outcome := command.Outcome(res)
	e.metrics.ObserveCommand(cmd.Kind().String(), outcome, time.Since(start))

	if err := command.Err(res); err != nil {
		logger.Debug("Executed %s: task_id=%s command_id=%s key=%s outcome=%s error=%v",
			cmd.Kind(), cmd.ID().TaskID, cmd.ID().ID, cmd.EntryKey(), outcome, err)
		return
	}
	logger.Debug("Executed %s: task_id=%s command_id=%s key=%s outcome=%s duration=%s",
		cmd.Kind(), cmd.ID().TaskID, cmd.ID().ID, cmd.EntryKey(), outcome, time.Since(start))
}

func (e *Executor) retrier(cmd command.Command) *retrier {
	return e.retrierFor(cmd.Config(), cmd.ID(), cmd.Kind().String())
}

// retrierFor builds a retrier for requests that are not storage commands.
// kind labels the attempt metrics.
func (e *Executor) retrierFor(cfg command.StorageConfig, id command.CommandID, kind string) *retrier {
	return &retrier{
		cfg:     cfg,
		cmdID:   id,
		kind:    kind,
		rand:    e.rand,
		timer:   e.timer,
		metrics: e.metrics,
		limiter: e.limits.For(cfg.ClientKey()),
	}
}
