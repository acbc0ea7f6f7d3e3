package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dittostore/pkg/backend"
	"github.com/marmos91/dittostore/pkg/executor"
	"github.com/marmos91/dittostore/pkg/registry"
	"github.com/marmos91/dittostore/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	exec, err := executor.New(executor.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	store := state.NewMemoryStore()
	reg := registry.New(backend.Deps{Executor: exec, Cache: store, Pending: store})
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	assert.Equal(t, []string{"glacier", "local", "s3"}, reg.Types())

	_, err := reg.Create(ctx, "disk", "local", map[string]any{"base_path": t.TempDir()})
	require.NoError(t, err)
	_, err = reg.Create(ctx, "cold", "glacier", map[string]any{"bucket": "archive"})
	require.NoError(t, err)
	_, err = reg.Create(ctx, "hot", "s3", map[string]any{"bucket": "objects"})
	require.NoError(t, err)

	assert.Equal(t, []string{"cold", "disk", "hot"}, reg.Names())
	assert.Equal(t, 3, reg.Count())

	b, err := reg.Get("disk")
	require.NoError(t, err)
	assert.Equal(t, "local", b.Type())

	_, err = reg.Online("disk")
	assert.NoError(t, err)
	_, err = reg.Online("cold")
	assert.ErrorIs(t, err, registry.ErrCapability)

	nearline, err := reg.Nearline("cold")
	require.NoError(t, err)
	assert.False(t, nearline.IsInternalCache())
	_, err = reg.Nearline("hot")
	assert.ErrorIs(t, err, registry.ErrCapability)

	periodic := reg.Periodic()
	require.Len(t, periodic, 1)
	assert.Equal(t, "cold", periodic[0].Name)
}

func TestCreateErrors(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	_, err := reg.Create(ctx, "x", "tape", nil)
	assert.ErrorIs(t, err, registry.ErrUnknownType)

	_, err = reg.Create(ctx, "disk", "local", map[string]any{"base_path": t.TempDir()})
	require.NoError(t, err)
	_, err = reg.Create(ctx, "disk", "local", map[string]any{"base_path": t.TempDir()})
	assert.ErrorContains(t, err, "already registered")

	_, err = reg.Create(ctx, "bad", "local", map[string]any{"unknown_option": 1})
	assert.Error(t, err)

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, registry.ErrUnknownBackend)
	assert.ErrorIs(t, reg.Remove("nope"), registry.ErrUnknownBackend)
}

func TestRegisterType(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	boom := errors.New("boom")
	require.NoError(t, reg.RegisterType("broken", func(context.Context, string, map[string]any, backend.Deps) (backend.Backend, error) {
		return nil, boom
	}))
	assert.Error(t, reg.RegisterType("", nil))

	_, err := reg.Create(ctx, "b", "broken", nil)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, reg.Count())
}

func TestRemoveAndClose(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	_, err := reg.Create(ctx, "a", "local", map[string]any{"base_path": t.TempDir()})
	require.NoError(t, err)
	_, err = reg.Create(ctx, "b", "local", map[string]any{"base_path": t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, reg.Remove("a"))
	assert.Equal(t, []string{"b"}, reg.Names())

	require.NoError(t, reg.Close())
	assert.Zero(t, reg.Count())
}
