package cache

import (
	"context"
	"fmt"
	"path"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no per-key expiry
}

// MemoryStore is an in-process Store built on an expiring LRU. Entries
// carry their own expiry and the LRU's ttl acts as a ceiling.
type MemoryStore struct {
	cache *lru.LRU[string, memoryEntry]
	now   func() time.Time
}

// NewMemoryStore creates an in-process store
func NewMemoryStore(cfg Config) *MemoryStore {
	size := cfg.MemoryMaxEntries
	if size < 10 {
		size = 10
	}
	return &MemoryStore{
		cache: lru.NewLRU[string, memoryEntry](size, nil, cfg.MemoryMaxTTL),
		now:   time.Now,
	}
}

// Get returns the value for key or ErrCacheMiss
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidCacheKey
	}
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.cache.Remove(key)
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a copy of value under key
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.cache.Add(key, entry)
	return nil
}

// Delete removes the given keys
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Remove(key)
	}
	return nil
}

// DeletePattern removes keys matching pattern. Keys never contain '/', so
// path.Match gives the same results as redis glob matching for them.
func (s *MemoryStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, ErrInvalidCacheKey
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	deleted := 0
	for _, key := range s.cache.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			if s.cache.Remove(key) {
				deleted++
			}
		}
	}
	return deleted, nil
}

// Ping always succeeds for the in-process store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of entries, including ones not yet lazily expired
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close drops all entries
func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
