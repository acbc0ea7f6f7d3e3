package command

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// StorageConfig
// ============================================================================

func TestEntryKey(t *testing.T) {
	tests := []struct {
		name   string
		root   string
		suffix string
		want   string
	}{
		{"RootWithoutSeparator", "archive", "file.bin", "archive/file.bin"},
		{"RootWithSeparator", "archive/", "file.bin", "archive/file.bin"},
		{"NoRoot", "", "file.bin", "file.bin"},
		{"RootOnlySeparators", "//", "file.bin", "file.bin"},
		{"NestedRoot", "/a/b//", "c/d.bin", "a/b/c/d.bin"},
		{"SuffixWithLeadingSeparator", "archive", "/file.bin", "archive/file.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := StorageConfig{Bucket: "b", RootPath: tt.root}
			assert.Equal(t, tt.want, cfg.EntryKey(tt.suffix))
		})
	}
}

func TestStorageConfigValidate(t *testing.T) {
	valid := StorageConfig{
		Endpoint:         "https://s3.example.com",
		Bucket:           "bucket",
		MaxRetries:       DefaultMaxRetries,
		RetryBackOffBase: DefaultRetryBackOffBase,
		RetryBackOffMax:  DefaultRetryBackOffMax,
	}
	require.NoError(t, valid.Validate())

	t.Run("MissingBucket", func(t *testing.T) {
		c := valid
		c.Bucket = ""
		assert.Error(t, c.Validate())
	})
	t.Run("BadEndpoint", func(t *testing.T) {
		c := valid
		c.Endpoint = "not a url"
		assert.Error(t, c.Validate())
	})
	t.Run("NegativeRetries", func(t *testing.T) {
		c := valid
		c.MaxRetries = -1
		assert.Error(t, c.Validate())
	})
	t.Run("MaxBelowBase", func(t *testing.T) {
		c := valid
		c.RetryBackOffMax = 10 * time.Millisecond
		assert.Error(t, c.Validate())
	})
	t.Run("ZeroRetriesAllowed", func(t *testing.T) {
		c := valid
		c.MaxRetries = 0
		assert.NoError(t, c.Validate())
	})
}

func TestStorageConfigStringHidesSecrets(t *testing.T) {
	cfg := StorageConfig{Endpoint: "http://x:9000", Bucket: "b", AccessKeyID: "AK", SecretAccessKey: "topsecret"}
	assert.NotContains(t, cfg.String(), "topsecret")
}

// ============================================================================
// Commands
// ============================================================================

func TestCommandsResolveKeys(t *testing.T) {
	cfg := StorageConfig{Bucket: "b", RootPath: "archive"}

	check := NewCheck(cfg, "task-1", "file.bin")
	assert.Equal(t, KindCheck, check.Kind())
	assert.Equal(t, "archive/file.bin", check.EntryKey())
	assert.Equal(t, "task-1", check.ID().TaskID)
	assert.Equal(t, cfg, check.Config())

	read := NewRead(cfg, "task-1", "file.bin")
	assert.NotEqual(t, check.ID().ID, read.ID().ID, "every command gets its own id")

	del := NewDeletePrefix(cfg, "task-1", "dir")
	assert.True(t, del.Prefix)
	assert.Equal(t, KindDelete, del.Kind())
}

// ============================================================================
// Entry
// ============================================================================

func TestEntryOpensOnce(t *testing.T) {
	opened := 0
	e := NewEntry(StorageConfig{}, "k", 3, nil, func() (io.ReadCloser, error) {
		opened++
		return io.NopCloser(bytes.NewReader([]byte("abc"))), nil
	})

	rc, err := e.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	require.NoError(t, rc.Close())

	_, err = e.Open()
	assert.ErrorIs(t, err, ErrEntryConsumed)
	assert.Equal(t, 1, opened)
	assert.True(t, e.Consumed())
}

func TestEntryOpenConcurrent(t *testing.T) {
	e := NewStreamEntry(StorageConfig{}, "k", UnknownSize, nil, io.NopCloser(bytes.NewReader(nil)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Open(); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestEntryMetadata(t *testing.T) {
	sum := Checksum{Algorithm: MD5, Value: "abc"}
	e := NewEntry(StorageConfig{}, "k", UnknownSize, &sum, nil)

	_, known := e.Size()
	assert.False(t, known)
	got, ok := e.Checksum()
	assert.True(t, ok)
	assert.Equal(t, sum, got)
}

// ============================================================================
// Checksum
// ============================================================================

func TestChecksum(t *testing.T) {
	h, err := NewHasher(MD5)
	require.NoError(t, err)
	h.Write([]byte("hello"))
	sum := Sum(MD5, h)

	want := md5.Sum([]byte("hello"))
	assert.Equal(t, hex.EncodeToString(want[:]), sum.Value)

	upper := Checksum{Algorithm: "md5", Value: "5D41402ABC4B2A76B9719D911017C592"}
	assert.True(t, sum.Equal(upper))
	assert.False(t, sum.Equal(Checksum{Algorithm: SHA256, Value: sum.Value}))

	_, err = ParseAlgorithm("crc32")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	algo, err := ParseAlgorithm("sha256")
	require.NoError(t, err)
	assert.Equal(t, SHA256, algo)
}

// ============================================================================
// Results
// ============================================================================

func TestMatchHelpers(t *testing.T) {
	cfg := StorageConfig{Bucket: "b"}
	check := NewCheck(cfg, "t", "k")

	name := func(r CheckResult) string {
		return MatchCheck(r,
			func(CheckPresent) string { return "present" },
			func(CheckAbsent) string { return "absent" },
			func(u Unreachable) string { return "unreachable" },
		)
	}
	assert.Equal(t, "present", name(CheckPresent{Cmd: check}))
	assert.Equal(t, "absent", name(CheckAbsent{Cmd: check}))
	assert.Equal(t, "unreachable", name(Unreachable{Cmd: check, Err: errors.New("boom")}))

	del := NewDelete(cfg, "t", "k")
	failed := MatchDelete[error](DeleteFailure{Cmd: del, Err: errors.New("denied")},
		func(DeleteSuccess) error { return nil },
		func(f DeleteFailure) error { return f.Err },
		func(u Unreachable) error { return u.Err },
	)
	assert.EqualError(t, failed, "denied")
}

func TestUnreachableCarriesCause(t *testing.T) {
	cause := errors.New("connection reset")
	r := Unreachable{Cmd: NewRead(StorageConfig{Bucket: "b"}, "t", "k"), Err: cause}

	assert.ErrorIs(t, Err(r), cause)
	assert.Equal(t, "unreachable", Outcome(r))
	assert.Nil(t, Err(ReadNotFound{}))
	assert.Equal(t, "not_found", Outcome(ReadNotFound{}))
}

// ============================================================================
// GlacierFileStatus
// ============================================================================

func TestGlacierFileStatusExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	s := GlacierFileStatus{Status: Available, ExpiresAt: &expires}

	assert.True(t, s.AvailableAt(now))
	assert.False(t, s.AvailableAt(expires))
	assert.Equal(t, Expired, s.At(expires.Add(time.Second)).Status)
	assert.Equal(t, Available, s.At(now).Status)

	untracked := GlacierFileStatus{Status: Available}
	assert.True(t, untracked.AvailableAt(now.Add(24*time.Hour)))

	pending := GlacierFileStatus{Status: RestorePending}
	assert.False(t, pending.AvailableAt(now))
}
