package s3_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/backend"
	s3backend "github.com/marmos91/dittostore/pkg/backend/s3"
	"github.com/marmos91/dittostore/pkg/command"
	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/marmos91/dittostore/pkg/executor/s3fake"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/marmos91/dittostore/pkg/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucket = "objects"

func newBackend(t *testing.T, fake *s3fake.Fake, options map[string]any) *s3backend.Backend {
	t.Helper()
	exec, err := executor.New(executor.Options{
		ClientFactory: func(context.Context, command.StorageConfig) (executor.ObjectAPI, error) {
			return fake, nil
		},
		PartSize:        1024,
		AllowSmallParts: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	opts := map[string]any{
		"bucket":       bucket,
		"endpoint":     "http://s3.test:9000",
		"root_path":    "archive",
		"max_retries":  2,
		"backoff_base": "1ms",
		"backoff_max":  "2ms",
	}
	for k, v := range options {
		if v == nil {
			delete(opts, k)
			continue
		}
		opts[k] = v
	}
	b, err := s3backend.Factory(context.Background(), "objects", opts, backend.Deps{Executor: exec})
	require.NoError(t, err)
	return b.(*s3backend.Backend)
}

func storeRequest(t *testing.T, id, data string) request.StoreRequest {
	t.Helper()
	path := filepath.Join(t.TempDir(), id)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	sum := md5.Sum([]byte(data))
	return request.StoreRequest{
		ID:        id,
		FileName:  id,
		OriginURL: path,
		Checksum:  command.Checksum{Algorithm: command.MD5, Value: hex.EncodeToString(sum[:])},
		FileSize:  int64(len(data)),
	}
}

func TestFactoryDefaults(t *testing.T) {
	b := newBackend(t, s3fake.New(), map[string]any{"max_retries": nil})
	cfg := b.Config()
	assert.Equal(t, command.DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, "archive/", cfg.NormalizedRoot())
	assert.True(t, b.AllowPhysicalDeletion())
	assert.False(t, b.HasPeriodicAction())
}

func TestFactoryRejectsInvalidConfig(t *testing.T) {
	_, err := s3backend.Factory(context.Background(), "x", map[string]any{"bucket": ""}, backend.Deps{Executor: &executor.Executor{}})
	assert.Error(t, err)

	_, err = s3backend.Factory(context.Background(), "x", map[string]any{"bucket": "b"}, backend.Deps{})
	assert.Error(t, err)
}

func TestStoreRetrieveDelete(t *testing.T) {
	ctx := context.Background()
	fake := s3fake.New()
	b := newBackend(t, fake, nil)

	req := storeRequest(t, "r1", "some archived bytes")
	req.SubDirectory = "tenant"
	subsets, rejected := b.PrepareForStorage([]request.StoreRequest{req})
	require.Empty(t, rejected)

	rec := progress.NewRecorder(false)
	b.Store(ctx, subsets[0], rec)

	events := rec.For("r1")
	require.Len(t, events, 1)
	require.NoError(t, events[0].Err)
	wantKey := "archive/tenant/" + req.Checksum.Value
	assert.Equal(t, "s3://objects/"+wantKey, events[0].URL)
	data, ok := fake.Object(bucket, wantKey)
	require.True(t, ok)
	assert.Equal(t, "some archived bytes", string(data))

	rc, err := b.Retrieve(ctx, events[0].URL)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "some archived bytes", string(got))

	del := []request.DeleteRequest{{ID: "d1", URL: events[0].URL}, {ID: "d2", URL: events[0].URL + "-missing"}}
	b.Delete(ctx, b.PrepareForDeletion(del)[0], rec)
	assert.Equal(t, progress.OutcomeSucceeded, rec.For("d1")[0].Outcome)
	assert.Equal(t, progress.OutcomeSucceeded, rec.For("d2")[0].Outcome)
	_, ok = fake.Object(bucket, wantKey)
	assert.False(t, ok)

	_, err = b.Retrieve(ctx, events[0].URL)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestStorePartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	fake := s3fake.New()
	b := newBackend(t, fake, map[string]any{"workers": 4})

	var reqs []request.StoreRequest
	for i := range 8 {
		reqs = append(reqs, storeRequest(t, fmt.Sprintf("r%d", i), fmt.Sprintf("content number %d", i)))
	}
	reqs[3].Checksum.Value = "ffffffffffffffffffffffffffffffff"

	rec := progress.NewRecorder(false)
	b.Store(ctx, request.WorkingSubset[request.StoreRequest]{Name: "batch", Requests: reqs}, rec)

	for i, r := range reqs {
		events := rec.For(r.ID)
		require.Len(t, events, 1, r.ID)
		if i == 3 {
			assert.ErrorIs(t, events[0].Err, command.ErrChecksumMismatch)
			continue
		}
		assert.Equal(t, progress.OutcomeSucceeded, events[0].Outcome, r.ID)
	}
	assert.Len(t, fake.Keys(bucket), 7)
}

func TestStoreUnreachable(t *testing.T) {
	fake := s3fake.New()
	fake.Fail(s3fake.OpPutObject, -1, s3fake.HTTPError(http.StatusServiceUnavailable, "SlowDown"))
	b := newBackend(t, fake, nil)

	req := storeRequest(t, "r1", "x")
	rec := progress.NewRecorder(false)
	b.Store(context.Background(), request.WorkingSubset[request.StoreRequest]{Requests: []request.StoreRequest{req}}, rec)

	failures := rec.Failures()
	require.Len(t, failures, 1)
	var unreachable command.Unreachable
	assert.ErrorAs(t, failures[0].Err, &unreachable)
	assert.Equal(t, 3, fake.Calls(s3fake.OpPutObject))
}

func TestStoreCancelledContext(t *testing.T) {
	fake := s3fake.New()
	b := newBackend(t, fake, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	reqs := []request.StoreRequest{storeRequest(t, "a", "1"), storeRequest(t, "b", "2")}
	rec := progress.NewRecorder(false)
	b.Store(ctx, request.WorkingSubset[request.StoreRequest]{Requests: reqs}, rec)

	assert.Len(t, rec.Failures(), 2)
	assert.Empty(t, fake.Keys(bucket))
}

func TestDeleteWithoutPhysicalDeletion(t *testing.T) {
	fake := s3fake.New()
	fake.Put(bucket, "archive/k", []byte("x"))
	b := newBackend(t, fake, map[string]any{"allow_physical_deletion": false})

	rec := progress.NewRecorder(false)
	b.Delete(context.Background(), request.WorkingSubset[request.DeleteRequest]{
		Requests: []request.DeleteRequest{{ID: "d", URL: "s3://objects/archive/k"}},
	}, rec)

	assert.Equal(t, progress.OutcomeSucceeded, rec.For("d")[0].Outcome)
	_, ok := fake.Object(bucket, "archive/k")
	assert.True(t, ok)
	assert.Zero(t, fake.Calls(s3fake.OpDeleteObject))
}

func TestKeyFromURL(t *testing.T) {
	b := newBackend(t, s3fake.New(), nil)

	key, err := b.KeyFromURL("s3://objects/archive/a/b")
	require.NoError(t, err)
	assert.Equal(t, "archive/a/b", key)
	assert.Equal(t, "s3://objects/archive/a/b", b.ObjectURL(key))

	for _, url := range []string{
		"file:///archive/a",
		"s3://other/archive/a",
		"s3://objects/elsewhere/a",
		"s3://objects/",
		"s3://objects/archive/../x",
	} {
		errs := &backend.URLErrors{}
		assert.False(t, b.IsValidURL(url, errs), url)
		assert.ErrorIs(t, errs.Err(), backend.ErrInvalidURL)
	}
}
