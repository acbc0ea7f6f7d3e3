// Package state keeps the bookkeeping nearline backends need between calls:
// the index of restored cache files and the queue of pending actions
// (deferred deletions, storage-class transitions) settled by periodic sweeps.
//
// Two implementations are provided: an in-memory one for tests and
// single-run CLI invocations, and a BadgerDB one that survives restarts.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittostore/pkg/command"
)

// ErrNotFound is returned when a key has no entry.
var ErrNotFound = errors.New("state: not found")

// CacheKind tells where a restored file lives.
type CacheKind string

const (
	// CacheInternal: a local file managed by this process
	CacheInternal CacheKind = "internal"

	// CacheExternal: a location managed by the storage provider (a restored
	// archive object readable until its expiry)
	CacheExternal CacheKind = "external"
)

// CacheEntry records one restored file.
type CacheEntry struct {
	Checksum   command.Checksum `json:"checksum"`
	Backend    string           `json:"backend"`
	Kind       CacheKind        `json:"kind"`
	Location   string           `json:"location"`
	Size       int64            `json:"size"`
	RestoredAt time.Time        `json:"restored_at"`

	// ExpiresAt is zero when the entry does not expire
	ExpiresAt time.Time `json:"expires_at"`
}

// Key is the index key of the entry.
func (e CacheEntry) Key() string {
	return CacheKey(e.Backend, e.Checksum)
}

// UsableAt reports whether the entry can still be handed out at now without
// expiring within margin.
func (e CacheEntry) UsableAt(now time.Time, margin time.Duration) bool {
	if e.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(margin).Before(e.ExpiresAt)
}

// StatusAt maps the entry to a restoration status.
func (e CacheEntry) StatusAt(now time.Time) command.RestorationStatus {
	if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
		return command.Expired
	}
	return command.Available
}

// CacheKey builds the index key for a backend and checksum.
func CacheKey(backend string, sum command.Checksum) string {
	return backend + "/" + string(sum.Algorithm) + ":" + sum.Value
}

// CacheIndex tracks restored files.
type CacheIndex interface {
	// Put inserts or replaces the entry under e.Key().
	Put(ctx context.Context, e CacheEntry) error

	// Get returns ErrNotFound when no entry exists.
	Get(ctx context.Context, key string) (CacheEntry, error)

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error

	// Expired lists entries whose ExpiresAt is at or before now.
	Expired(ctx context.Context, now time.Time) ([]CacheEntry, error)
}

// ActionKind is the type of a pending action.
type ActionKind string

const (
	// ActionDelete: a deletion to flush on the next sweep
	ActionDelete ActionKind = "delete"

	// ActionTier: an object waiting to reach its archive storage class
	ActionTier ActionKind = "tier"
)

// PendingAction is an out-of-band step a backend still owes.
type PendingAction struct {
	Backend string     `json:"backend"`
	URL     string     `json:"url"`
	Kind    ActionKind `json:"kind"`
	Key     string     `json:"key"`
	Since   time.Time  `json:"since"`

	// Attempts counts failed sweeps
	Attempts int `json:"attempts"`
}

// PendingStore persists pending actions keyed by (backend, url).
type PendingStore interface {
	// Add inserts or replaces an action.
	Add(ctx context.Context, a PendingAction) error

	// List returns the actions of a backend ordered by URL.
	List(ctx context.Context, backend string) ([]PendingAction, error)

	// Remove is idempotent.
	Remove(ctx context.Context, backend, url string) error
}

// Store bundles both indexes over one storage engine.
type Store interface {
	CacheIndex
	PendingStore
	Close() error
}
