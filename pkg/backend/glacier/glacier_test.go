package glacier_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/backend"
	"github.com/marmos91/dittostore/pkg/backend/glacier"
	"github.com/marmos91/dittostore/pkg/command"
	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/marmos91/dittostore/pkg/executor/s3fake"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/marmos91/dittostore/pkg/request"
	"github.com/marmos91/dittostore/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucket = "cold"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	fake    *s3fake.Fake
	clock   *clock
	state   state.Store
	backend *glacier.Backend
}

func newEnv(t *testing.T, options map[string]any) *env {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fake := s3fake.New()
	fake.Now = clk.Now

	exec, err := executor.New(executor.Options{
		ClientFactory: func(context.Context, command.StorageConfig) (executor.ObjectAPI, error) {
			return fake, nil
		},
		Now: clk.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	store := state.NewMemoryStore()
	opts := map[string]any{
		"bucket":          bucket,
		"endpoint":        "http://s3.test:9000",
		"root_path":       "vault",
		"max_retries":     1,
		"backoff_base":    "1ms",
		"backoff_max":     "2ms",
		"poll_interval":   "1ms",
		"restore_timeout": "5s",
	}
	for k, v := range options {
		opts[k] = v
	}

	b, err := glacier.Factory(context.Background(), "archive", opts, backend.Deps{
		Executor: exec,
		Cache:    store,
		Pending:  store,
		Now:      clk.Now,
	})
	require.NoError(t, err)
	return &env{fake: fake, clock: clk, state: store, backend: b.(*glacier.Backend)}
}

func checksumOf(data string) command.Checksum {
	sum := md5.Sum([]byte(data))
	return command.Checksum{Algorithm: command.MD5, Value: hex.EncodeToString(sum[:])}
}

// archive puts data in the archive class and returns its location.
func (e *env) archive(name, data string) (string, request.RestoreRequest) {
	key := "vault/" + name
	e.fake.PutArchived(bucket, key, []byte(data), "GLACIER")
	url := "s3://" + bucket + "/" + key
	return key, request.RestoreRequest{ID: name, URL: url, Checksum: checksumOf(data), FileSize: int64(len(data))}
}

// completeAfter finishes the restoration of key once the store received
// calls restore requests.
func (e *env) completeAfter(key string, calls int, expiry time.Time) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(5 * time.Second)
		for e.fake.Calls(s3fake.OpRestoreObject) < calls {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(time.Millisecond)
		}
		e.fake.CompleteRestore(bucket, key, expiry)
	}()
	return done
}

func (e *env) restore(reqs ...request.RestoreRequest) *progress.Recorder {
	rec := progress.NewRecorder(false)
	for _, subset := range e.backend.PrepareForRestoration(reqs) {
		e.backend.Restore(context.Background(), subset, rec)
	}
	return rec
}

func TestFactoryValidation(t *testing.T) {
	_, err := glacier.Factory(context.Background(), "x", map[string]any{
		"bucket":     "b",
		"cache_kind": "internal",
	}, backend.Deps{Executor: &executor.Executor{}, Cache: state.NewMemoryStore(), Pending: state.NewMemoryStore()})
	assert.ErrorContains(t, err, "cache_path")

	_, err = glacier.Factory(context.Background(), "x", map[string]any{"bucket": "b"}, backend.Deps{Executor: &executor.Executor{}})
	assert.ErrorContains(t, err, "pending store")

	_, err = glacier.Factory(context.Background(), "x", map[string]any{"bucket": "b", "cache_kind": "tape"},
		backend.Deps{Executor: &executor.Executor{}, Cache: state.NewMemoryStore(), Pending: state.NewMemoryStore()})
	assert.Error(t, err)
}

func TestStoreQueuesTierConfirmation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	path := filepath.Join(t.TempDir(), "origin")
	require.NoError(t, os.WriteFile(path, []byte("frozen"), 0o644))
	req := request.StoreRequest{ID: "s1", FileName: "s1", OriginURL: path, Checksum: checksumOf("frozen"), FileSize: 6}

	subsets, rejected := e.backend.PrepareForStorage([]request.StoreRequest{req})
	require.Empty(t, rejected)
	rec := progress.NewRecorder(false)
	e.backend.Store(ctx, subsets[0], rec)

	events := rec.For("s1")
	require.Len(t, events, 1)
	require.Equal(t, progress.OutcomePending, events[0].Outcome, "%v", events[0].Err)
	url := events[0].URL

	actions, err := e.state.List(ctx, "archive")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, state.ActionTier, actions[0].Kind)
	assert.Equal(t, url, actions[0].URL)

	// still in the standard class: nothing settles
	sweep := progress.NewRecorder(false)
	require.NoError(t, e.backend.RunPeriodicAction(ctx, sweep))
	assert.Empty(t, sweep.Events())

	require.True(t, e.fake.SetStorageClass(bucket, actions[0].Key, "GLACIER"))
	require.NoError(t, e.backend.RunPeriodicAction(ctx, sweep))

	counts := sweep.CountByOutcome()
	assert.Equal(t, 1, counts[progress.OutcomeActionSucceeded])
	assert.Equal(t, 1, counts[progress.OutcomeAllActionsSettled])
	actions, err = e.state.List(ctx, "archive")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestDeleteQueuedAndFlushed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	key, r := e.archive("gone.bin", "bye")

	rec := progress.NewRecorder(false)
	del := []request.DeleteRequest{{ID: "d1", URL: r.URL, Checksum: r.Checksum}}
	e.backend.Delete(ctx, e.backend.PrepareForDeletion(del)[0], rec)
	assert.Equal(t, progress.OutcomePending, rec.For("d1")[0].Outcome)

	_, ok := e.fake.Object(bucket, key)
	require.True(t, ok, "deletion is deferred to the periodic action")

	sweep := progress.NewRecorder(false)
	require.NoError(t, e.backend.RunPeriodicAction(ctx, sweep))

	_, ok = e.fake.Object(bucket, key)
	assert.False(t, ok)
	settled := sweep.Events()
	require.Len(t, settled, 2)
	assert.Equal(t, r.URL, settled[0].URL)
	assert.Equal(t, progress.OutcomeAllActionsSettled, settled[1].Outcome)
	assert.Equal(t, "archive", settled[1].Backend)
}

func TestDeleteFailureStaysQueued(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	_, r := e.archive("stuck.bin", "x")

	rec := progress.NewRecorder(false)
	e.backend.Delete(ctx, request.WorkingSubset[request.DeleteRequest]{
		Requests: []request.DeleteRequest{{ID: "d1", URL: r.URL}},
	}, rec)

	e.fake.Fail(s3fake.OpDeleteObject, -1, s3fake.HTTPError(http.StatusServiceUnavailable, "SlowDown"))
	sweep := progress.NewRecorder(false)
	require.NoError(t, e.backend.RunPeriodicAction(ctx, sweep))
	assert.Empty(t, sweep.Events())

	actions, err := e.state.List(ctx, "archive")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, 1, actions[0].Attempts)

	e.fake.Heal()
	require.NoError(t, e.backend.RunPeriodicAction(ctx, sweep))
	assert.Equal(t, 1, sweep.CountByOutcome()[progress.OutcomeAllActionsSettled])
}

func TestDeleteWithoutPhysicalDeletion(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, map[string]any{"allow_physical_deletion": false})
	key, r := e.archive("kept.bin", "x")

	rec := progress.NewRecorder(false)
	e.backend.Delete(ctx, request.WorkingSubset[request.DeleteRequest]{
		Requests: []request.DeleteRequest{{ID: "d1", URL: r.URL}},
	}, rec)
	assert.Equal(t, progress.OutcomeSucceeded, rec.For("d1")[0].Outcome)

	actions, err := e.state.List(ctx, "archive")
	require.NoError(t, err)
	assert.Empty(t, actions)
	_, ok := e.fake.Object(bucket, key)
	assert.True(t, ok)
}

func TestRestoreExternalCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	key, r := e.archive("report.pdf", "cold bytes")

	expiry := e.clock.Now().Add(48 * time.Hour)
	done := e.completeAfter(key, 1, expiry)
	rec := e.restore(r)
	<-done

	events := rec.For(r.ID)
	require.Len(t, events, 1)
	require.Equal(t, progress.OutcomeExternalCache, events[0].Outcome, "%v", events[0].Err)
	assert.Equal(t, r.URL, events[0].URL)
	assert.Equal(t, int64(10), events[0].Size)
	require.NotNil(t, events[0].ExpiresAt)
	assert.True(t, events[0].ExpiresAt.Equal(expiry))

	status, err := e.backend.Availability(ctx, r.URL)
	require.NoError(t, err)
	assert.Equal(t, command.Available, status.Status)

	// a second request is served from the cache index
	again := e.restore(r)
	assert.Equal(t, progress.OutcomeExternalCache, again.For(r.ID)[0].Outcome)
	assert.Equal(t, 1, e.fake.Calls(s3fake.OpRestoreObject))

	e.clock.Advance(49 * time.Hour)
	status, err = e.backend.Availability(ctx, r.URL)
	require.NoError(t, err)
	assert.Equal(t, command.Expired, status.Status)
}

func TestRestoreAgainWhenAboutToExpire(t *testing.T) {
	e := newEnv(t, map[string]any{"expiry_margin": "1h"})
	key, r := e.archive("ledger.csv", "a,b,c")

	first := e.clock.Now().Add(2 * time.Hour)
	done := e.completeAfter(key, 1, first)
	require.Equal(t, progress.OutcomeExternalCache, e.restore(r).For(r.ID)[0].Outcome)
	<-done

	// 30 minutes of validity left, less than the margin
	e.clock.Advance(90 * time.Minute)
	second := e.clock.Now().Add(48 * time.Hour)
	done = e.completeAfter(key, 2, second)
	events := e.restore(r).For(r.ID)
	<-done

	require.Len(t, events, 1)
	require.Equal(t, progress.OutcomeExternalCache, events[0].Outcome, "%v", events[0].Err)
	require.NotNil(t, events[0].ExpiresAt)
	assert.True(t, events[0].ExpiresAt.Equal(second))
	assert.Equal(t, 2, e.fake.Calls(s3fake.OpRestoreObject))
}

func TestRestoreInternalCache(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	e := newEnv(t, map[string]any{"cache_kind": "internal", "cache_path": cacheDir})
	require.True(t, e.backend.IsInternalCache())

	key, good := e.archive("good.bin", "restored content")
	badKey, bad := e.archive("bad.bin", "tampered")
	bad.Checksum = checksumOf("something else")

	expiry := e.clock.Now().Add(24 * time.Hour)
	doneGood := e.completeAfter(key, 1, expiry)
	doneBad := e.completeAfter(badKey, 1, expiry)
	rec := e.restore(good, bad)
	<-doneGood
	<-doneBad

	events := rec.For(good.ID)
	require.Len(t, events, 1)
	require.Equal(t, progress.OutcomeInternalCache, events[0].Outcome, "%v", events[0].Err)
	assert.Equal(t, filepath.Join(cacheDir, good.Checksum.Value), events[0].Path)
	data, err := os.ReadFile(events[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "restored content", string(data))

	assert.ErrorIs(t, rec.For(bad.ID)[0].Err, command.ErrChecksumMismatch)
	assert.NoFileExists(t, filepath.Join(cacheDir, bad.Checksum.Value))

	entry, err := e.state.Get(ctx, state.CacheKey("archive", good.Checksum))
	require.NoError(t, err)
	assert.Equal(t, state.CacheInternal, entry.Kind)
	assert.Equal(t, int64(16), entry.Size)

	// deleting the location evicts the cached file
	del := progress.NewRecorder(false)
	e.backend.Delete(ctx, request.WorkingSubset[request.DeleteRequest]{
		Requests: []request.DeleteRequest{{ID: "d", URL: good.URL, Checksum: good.Checksum}},
	}, del)
	assert.NoFileExists(t, events[0].Path)
	_, err = e.state.Get(ctx, state.CacheKey("archive", good.Checksum))
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestRestoreStandardObject(t *testing.T) {
	e := newEnv(t, nil)
	e.fake.Put(bucket, "vault/hot.bin", []byte("hot"))

	rec := e.restore(request.RestoreRequest{
		ID: "hot", URL: "s3://" + bucket + "/vault/hot.bin", Checksum: checksumOf("hot"),
	})

	events := rec.For("hot")
	require.Len(t, events, 1)
	assert.Equal(t, progress.OutcomeExternalCache, events[0].Outcome)
	assert.Nil(t, events[0].ExpiresAt)
	assert.Zero(t, e.fake.Calls(s3fake.OpRestoreObject))
}

func TestRestoreFailures(t *testing.T) {
	e := newEnv(t, map[string]any{"restore_timeout": "20ms"})
	_, never := e.archive("never.bin", "slow")

	rec := e.restore(
		never,
		request.RestoreRequest{ID: "missing", URL: "s3://" + bucket + "/vault/none", Checksum: checksumOf("x")},
		request.RestoreRequest{ID: "foreign", URL: "s3://elsewhere/vault/x", Checksum: checksumOf("x")},
		request.RestoreRequest{ID: "nosum", URL: never.URL},
	)

	assert.ErrorIs(t, rec.For("never.bin")[0].Err, context.DeadlineExceeded)
	assert.ErrorIs(t, rec.For("missing")[0].Err, backend.ErrNotFound)
	assert.ErrorIs(t, rec.For("foreign")[0].Err, backend.ErrInvalidURL)
	assert.ErrorContains(t, rec.For("nosum")[0].Err, "missing checksum")
	assert.Len(t, rec.Failures(), 4)
}

func TestAvailabilityMissing(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.backend.Availability(context.Background(), "s3://"+bucket+"/vault/none")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}
