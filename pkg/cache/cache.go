package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheMiss is returned when a cache key is not found or has expired
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable is returned when the backing cache cannot be reached
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrInvalidCacheKey is returned for an empty key or pattern
	ErrInvalidCacheKey = errors.New("invalid cache key")
)

// Backend names accepted by New
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Store is a key/value store with per-key expiry and glob-pattern deletion.
// A ttl of zero stores the value without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes every key matching a redis-style glob and
	// returns how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a cache backend
type Config struct {
	Backend string `yaml:"backend"`

	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`

	// MemoryMaxEntries bounds the in-process LRU
	MemoryMaxEntries int `yaml:"memory_max_entries"`
	// MemoryMaxTTL is the upper bound on any entry's lifetime in the LRU
	MemoryMaxTTL time.Duration `yaml:"memory_max_ttl"`
}

// DefaultConfig returns an in-memory configuration suitable for development
func DefaultConfig() Config {
	return Config{
		Backend:          BackendMemory,
		RedisURL:         "redis://localhost:6379/0",
		RedisDB:          -1,
		MemoryMaxEntries: 10000,
		MemoryMaxTTL:     time.Hour,
	}
}

// New builds the configured backend. The choice is made once here so that
// callers only ever see a Store.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		return NewRedisStore(cfg)
	case BackendMemory, "":
		return NewMemoryStore(cfg), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %q (must be %s or %s)", cfg.Backend, BackendRedis, BackendMemory)
	}
}
