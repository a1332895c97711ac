package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/caregate/pkg/apperrors"
	"github.com/platinummonkey/caregate/pkg/cache"
	"github.com/platinummonkey/caregate/pkg/observability"
)

// Resolver computes a user's effective permission set, memoized in the cache
type Resolver struct {
	source PermissionSource
	cache  cache.Store
	group  singleflight.Group
	opts   options
}

// NewResolver creates a resolver reading from source and caching in store
func NewResolver(source PermissionSource, store cache.Store, opts ...Option) *Resolver {
	return &Resolver{
		source: source,
		cache:  store,
		opts:   buildOptions(opts),
	}
}

// Resolve returns the effective permissions of userID in hospitalID, or in
// platform context when hospitalID is nil. A store failure is returned as an
// error wrapping apperrors.ErrStoreUnavailable and is never cached.
func (r *Resolver) Resolve(ctx context.Context, userID int64, hospitalID *int64) (PermissionSet, error) {
	if err := validateSubject(userID, hospitalID); err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, "rbac.Resolve", trace.WithAttributes(spanAttributes(userID, hospitalID)...))
	defer span.End()

	key := PermissionSetKey(userID, hospitalID)
	if set, ok := r.readCached(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return set, nil
	}

	// The resolution is shared by every caller waiting on key, so it must not
	// end when the caller that started it goes away.
	ch := r.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.timeout)
		defer cancel()

		start := time.Now()
		set, err := r.compute(shared, userID, hospitalID)
		r.opts.metrics.ObserveResolve(time.Since(start))
		if err != nil {
			return nil, err
		}
		r.writeCached(shared, key, set)
		return set, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = fmt.Errorf("resolve abandoned: %w", ctx.Err())
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, res.Err
	}
	// Callers sharing a singleflight result must not share the map.
	return res.Val.(PermissionSet).Clone(), nil
}

// compute reads all three sources straight from the store
func (r *Resolver) compute(ctx context.Context, userID int64, hospitalID *int64) (PermissionSet, error) {
	set := NewPermissionSet()

	user, err := r.source.GetUser(ctx, userID)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return set, nil
	}
	if err != nil {
		return nil, storeFailure("load user", err)
	}

	grants, err := r.source.GetDirectGrants(ctx, userID)
	if err != nil {
		return nil, storeFailure("load direct grants", err)
	}
	for _, g := range grants {
		if g.AppliesTo(hospitalID) {
			set.Add(g.Permission)
		}
	}

	if user.GlobalRoleID != nil && (hospitalID == nil || r.opts.policy == GlobalRoleEverywhere) {
		names, err := r.source.GetGlobalRolePermissions(ctx, *user.GlobalRoleID)
		if err != nil {
			return nil, storeFailure("load global role permissions", err)
		}
		set.Add(names...)
	}

	if hospitalID == nil {
		return set, nil
	}

	assignments, err := r.source.GetActiveAssignments(ctx, userID, hospitalID)
	if err != nil {
		return nil, storeFailure("load hospital role assignments", err)
	}
	seen := make(map[int64]bool, len(assignments))
	for _, a := range assignments {
		if !a.IsActive || a.HospitalID != *hospitalID || seen[a.HospitalRoleID] {
			continue
		}
		seen[a.HospitalRoleID] = true
		names, err := r.source.GetTenantRolePermissions(ctx, a.HospitalRoleID)
		if err != nil {
			return nil, storeFailure("load hospital role permissions", err)
		}
		set.Add(names...)
	}

	return set, nil
}

func (r *Resolver) readCached(ctx context.Context, key string) (PermissionSet, bool) {
	raw, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrCacheMiss):
		r.opts.metrics.CacheResult(observability.TierPermissionSet, observability.CacheMiss)
		return nil, false
	default:
		r.opts.metrics.CacheResult(observability.TierPermissionSet, observability.CacheError)
		r.opts.logger.WithError(err).WithField("key", key).Warn("permission cache read failed, falling back to store")
		return nil, false
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		r.opts.metrics.CacheResult(observability.TierPermissionSet, observability.CacheCorrupt)
		r.opts.logger.WithError(err).WithField("key", key).Warn("discarding corrupt permission cache entry")
		if err := r.cache.Delete(ctx, key); err != nil {
			r.opts.logger.WithError(err).WithField("key", key).Warn("failed to delete corrupt permission cache entry")
		}
		return nil, false
	}

	r.opts.metrics.CacheResult(observability.TierPermissionSet, observability.CacheHit)
	return NewPermissionSet(names...), true
}

func (r *Resolver) writeCached(ctx context.Context, key string, set PermissionSet) {
	raw, err := json.Marshal(set.Sorted())
	if err == nil {
		err = r.cache.Set(ctx, key, raw, r.opts.ttl)
	}
	if err != nil {
		r.opts.metrics.CacheResult(observability.TierPermissionSet, observability.CacheSetError)
		r.opts.logger.WithError(err).WithField("key", key).Warn("permission cache write failed")
	}
}

func validateSubject(userID int64, hospitalID *int64) error {
	if userID <= 0 {
		return apperrors.Validation("user id must be positive", "user_id", userID)
	}
	if hospitalID != nil && *hospitalID <= 0 {
		return apperrors.Validation("hospital id must be positive", "hospital_id", *hospitalID)
	}
	return nil
}

func spanAttributes(userID int64, hospitalID *int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int64("user.id", userID)}
	if hospitalID != nil {
		attrs = append(attrs, attribute.Int64("hospital.id", *hospitalID))
	}
	return attrs
}

// storeFailure classifies any source error as a store outage
func storeFailure(op string, err error) error {
	if errors.Is(err, apperrors.ErrStoreUnavailable) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("%w: failed to %s: %w", apperrors.ErrStoreUnavailable, op, err)
}
