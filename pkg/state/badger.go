package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Key layout
// ==========
//
//	c:<backend>/<algorithm>:<checksum>   -> CacheEntry (JSON)
//	p:<backend>\x00<url>                 -> PendingAction (JSON)
//
// Values are JSON so entries stay readable with badger's CLI tools.
const (
	cachePrefix   = "c:"
	pendingPrefix = "p:"
)

func cacheKey(key string) []byte { return []byte(cachePrefix + key) }

func pendingKey(backend, url string) []byte {
	return []byte(pendingPrefix + backend + "\x00" + url)
}

func pendingBackendPrefix(backend string) []byte {
	return []byte(pendingPrefix + backend + "\x00")
}

// BadgerConfig configures the persistent state store.
type BadgerConfig struct {
	// DBPath is the database directory. Ignored when InMemory is set.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// InMemory keeps the database in RAM (tests)
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory,omitempty"`
}

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	mu sync.RWMutex
	db *badger.DB
}

// NewBadgerStore opens (or creates) the database.
//
// Parameters:
//   - ctx: checked before the database is opened
//   - cfg: database location
//
// Returns:
//   - *BadgerStore: store ready for use, Close it when done
//   - error: if the database cannot be opened
func NewBadgerStore(ctx context.Context, cfg BadgerConfig) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, errors.New("state: db_path is required")
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}
	// Small JSON records: compression is not worth it
	opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) put(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// scan decodes every value under prefix into fn.
func (s *BadgerStore) scan(ctx context.Context, prefix []byte, fn func(val []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		processed := 0
		for it.Rewind(); it.Valid(); it.Next() {
			processed++
			if processed%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// CacheIndex
// ============================================================================

func (s *BadgerStore) Put(ctx context.Context, e CacheEntry) error {
	return s.put(ctx, cacheKey(e.Key()), e)
}

func (s *BadgerStore) Get(ctx context.Context, key string) (CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return CacheEntry{}, err
	}

	var e CacheEntry
	s.mu.RLock()
	defer s.mu.RUnlock()
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return CacheEntry{}, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	return e, nil
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	return s.delete(ctx, cacheKey(key))
}

func (s *BadgerStore) Expired(ctx context.Context, now time.Time) ([]CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []CacheEntry
	err := s.scan(ctx, []byte(cachePrefix), func(val []byte) error {
		var e CacheEntry
		if err := json.Unmarshal(val, &e); err != nil {
			// Skip corrupted entries
			return nil
		}
		if !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now) {
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache index: %w", err)
	}
	return out, nil
}

// ============================================================================
// PendingStore
// ============================================================================

func (s *BadgerStore) Add(ctx context.Context, a PendingAction) error {
	return s.put(ctx, pendingKey(a.Backend, a.URL), a)
}

// List returns actions in URL order: badger iterates keys sorted.
func (s *BadgerStore) List(ctx context.Context, backend string) ([]PendingAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []PendingAction{}
	err := s.scan(ctx, pendingBackendPrefix(backend), func(val []byte) error {
		var a PendingAction
		if err := json.Unmarshal(val, &a); err != nil {
			return nil
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending actions of %s: %w", backend, err)
	}
	return out, nil
}

func (s *BadgerStore) Remove(ctx context.Context, backend, url string) error {
	return s.delete(ctx, pendingKey(backend, url))
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

var _ Store = (*BadgerStore)(nil)
