package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	cache   map[string]CacheEntry
	pending map[string]map[string]PendingAction
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache:   make(map[string]CacheEntry),
		pending: make(map[string]map[string]PendingAction),
	}
}

func (s *MemoryStore) Put(ctx context.Context, e CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[e.Key()] = e
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return CacheEntry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[key]
	if !ok {
		return CacheEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
	return nil
}

func (s *MemoryStore) Expired(ctx context.Context, now time.Time) ([]CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CacheEntry
	for _, e := range s.cache {
		if !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *MemoryStore) Add(ctx context.Context, a PendingAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	actions, ok := s.pending[a.Backend]
	if !ok {
		actions = make(map[string]PendingAction)
		s.pending[a.Backend] = actions
	}
	actions[a.URL] = a
	return nil
}

func (s *MemoryStore) List(ctx context.Context, backend string) ([]PendingAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PendingAction, 0, len(s.pending[backend]))
	for _, a := range s.pending[backend] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (s *MemoryStore) Remove(ctx context.Context, backend, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending[backend], url)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
