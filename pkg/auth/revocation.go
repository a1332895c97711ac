package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/caregate/pkg/apperrors"
	"github.com/platinummonkey/caregate/pkg/cache"
	"github.com/platinummonkey/caregate/pkg/observability"
)

// DefaultRevocationTTL caps how long a revoked id is remembered. It must be
// at least the longest token lifetime or a revoked token outlives its entry.
const DefaultRevocationTTL = DefaultRefreshTTL

const revokedKeyPrefix = "revoked:jti:"

// Revocation stores used as metric labels
const (
	StoreCache    = "cache"
	StoreFallback = "fallback"
	StoreLocal    = "local"
)

// Revoker records and answers token revocations
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RevocationRegistry keeps revoked token ids in the cache, with an
// in-process map for writes the cache could not take. A registry without a
// cache keeps every id in that map, which never evicts before expiry.
type RevocationRegistry struct {
	cache   cache.Store
	maxTTL  time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu       sync.Mutex
	fallback map[string]time.Time
}

// NewRevocationRegistry creates a registry. maxTTL caps the lifetime of an
// entry and is used when the token's remaining lifetime is unknown.
func NewRevocationRegistry(store cache.Store, maxTTL time.Duration, logger *observability.Logger, metrics *observability.Metrics) *RevocationRegistry {
	if maxTTL <= 0 {
		maxTTL = DefaultRevocationTTL
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RevocationRegistry{
		cache:    store,
		maxTTL:   maxTTL,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		fallback: make(map[string]time.Time),
	}
}

// NewLocalRevocationRegistry creates a registry that keeps ids only in
// process. Use it when the cache is a bounded in-process LRU, where churn in
// the permission caches would evict revocations.
func NewLocalRevocationRegistry(maxTTL time.Duration, logger *observability.Logger, metrics *observability.Metrics) *RevocationRegistry {
	return NewRevocationRegistry(nil, maxTTL, logger, metrics)
}

func revokedKey(jti string) string { return revokedKeyPrefix + jti }

// Revoke blocks jti for ttl, capped at the registry maximum. Revoking an
// empty or already revoked id is a no-op.
func (r *RevocationRegistry) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if ttl <= 0 || ttl > r.maxTTL {
		ttl = r.maxTTL
	}

	if r.cache == nil {
		r.remember(jti, ttl)
		r.metrics.Revocation(StoreLocal)
		return nil
	}

	if err := r.cache.Set(ctx, revokedKey(jti), []byte("1"), ttl); err != nil {
		r.logger.WithError(err).WithField("jti", jti).Warn("revocation cache write failed, using in-process fallback")
		r.remember(jti, ttl)
		r.metrics.Revocation(StoreFallback)
		return nil
	}

	r.metrics.Revocation(StoreCache)
	return nil
}

// remember records jti in the in-process map, keeping the later expiry
func (r *RevocationRegistry) remember(jti string, ttl time.Duration) {
	r.mu.Lock()
	expiresAt := r.now().Add(ttl)
	if existing, ok := r.fallback[jti]; !ok || existing.Before(expiresAt) {
		r.fallback[jti] = expiresAt
	}
	size := len(r.fallback)
	r.mu.Unlock()

	r.metrics.SetFallbackSize(size)
}

// IsRevoked reports whether jti has been revoked. An error means the cache
// could not be read and nothing is known about the id.
func (r *RevocationRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	if r.inFallback(jti) {
		return true, nil
	}
	if r.cache == nil {
		return false, nil
	}

	_, err := r.cache.Get(ctx, revokedKey(jti))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, cache.ErrCacheMiss):
		return false, nil
	default:
		return false, fmt.Errorf("%w: failed to read revocation: %w", apperrors.ErrCacheUnavailable, err)
	}
}

// inFallback checks the in-process map, dropping the entry if it has expired
func (r *RevocationRegistry) inFallback(jti string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.fallback[jti]
	if !ok {
		return false
	}
	if !r.now().Before(expiresAt) {
		delete(r.fallback, jti)
		return false
	}
	return true
}

// PurgeExpired removes expired fallback entries and returns how many were removed
func (r *RevocationRegistry) PurgeExpired() int {
	r.mu.Lock()
	now := r.now()
	removed := 0
	for jti, expiresAt := range r.fallback {
		if !now.Before(expiresAt) {
			delete(r.fallback, jti)
			removed++
		}
	}
	size := len(r.fallback)
	r.mu.Unlock()

	r.metrics.SetFallbackSize(size)
	return removed
}

// FallbackSize returns the number of ids held in process
func (r *RevocationRegistry) FallbackSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fallback)
}
