package rbac

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/caregate/pkg/cache"
	"github.com/platinummonkey/caregate/pkg/observability"
)

// Checker answers whether a user holds a set of permissions
type Checker interface {
	Check(ctx context.Context, userID int64, hospitalID *int64, required []string) (*Decision, error)
}

// PermissionChecker implements Checker with a decision cache in front of a Resolver
type PermissionChecker struct {
	resolver *Resolver
	cache    cache.Store
	opts     options
}

// NewPermissionChecker creates a new permission checker
func NewPermissionChecker(resolver *Resolver, store cache.Store, opts ...Option) *PermissionChecker {
	return &PermissionChecker{
		resolver: resolver,
		cache:    store,
		opts:     buildOptions(opts),
	}
}

// Check reports whether userID holds every required permission in
// hospitalID. An error means no decision was reached and must be treated as
// a denial.
func (pc *PermissionChecker) Check(ctx context.Context, userID int64, hospitalID *int64, required []string) (*Decision, error) {
	if err := validateSubject(userID, hospitalID); err != nil {
		return nil, err
	}

	required = normalizeRequired(required)
	if len(required) == 0 {
		return &Decision{Allowed: true, Missing: []string{}}, nil
	}

	ctx, span := observability.Tracer().Start(ctx, "rbac.Check", trace.WithAttributes(
		append(spanAttributes(userID, hospitalID), attribute.StringSlice("permissions.required", required))...,
	))
	defer span.End()

	key := DecisionKey(userID, hospitalID, required)
	if d, ok := pc.readCached(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Bool("allowed", d.Allowed))
		pc.record(d)
		return d, nil
	}

	set, err := pc.resolver.Resolve(ctx, userID, hospitalID)
	if err != nil {
		pc.opts.metrics.Decision("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "permission check failed")
		return nil, err
	}

	missing := set.Missing(required)
	d := &Decision{Allowed: len(missing) == 0, Missing: missing}
	pc.writeCached(ctx, key, d)

	span.SetAttributes(attribute.Bool("allowed", d.Allowed))
	pc.record(d)
	return d, nil
}

func (pc *PermissionChecker) record(d *Decision) {
	if d.Allowed {
		pc.opts.metrics.Decision("allowed")
		return
	}
	pc.opts.metrics.Decision("denied")
}

func (pc *PermissionChecker) readCached(ctx context.Context, key string) (*Decision, bool) {
	raw, err := pc.cache.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrCacheMiss):
		pc.opts.metrics.CacheResult(observability.TierDecision, observability.CacheMiss)
		return nil, false
	default:
		pc.opts.metrics.CacheResult(observability.TierDecision, observability.CacheError)
		pc.opts.logger.WithError(err).WithField("key", key).Warn("decision cache read failed, recomputing")
		return nil, false
	}

	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		pc.opts.metrics.CacheResult(observability.TierDecision, observability.CacheCorrupt)
		pc.opts.logger.WithError(err).WithField("key", key).Warn("discarding corrupt decision cache entry")
		if err := pc.cache.Delete(ctx, key); err != nil {
			pc.opts.logger.WithError(err).WithField("key", key).Warn("failed to delete corrupt decision cache entry")
		}
		return nil, false
	}
	if d.Missing == nil {
		d.Missing = []string{}
	}

	pc.opts.metrics.CacheResult(observability.TierDecision, observability.CacheHit)
	return &d, true
}

func (pc *PermissionChecker) writeCached(ctx context.Context, key string, d *Decision) {
	raw, err := json.Marshal(d)
	if err == nil {
		err = pc.cache.Set(ctx, key, raw, pc.opts.ttl)
	}
	if err != nil {
		pc.opts.metrics.CacheResult(observability.TierDecision, observability.CacheSetError)
		pc.opts.logger.WithError(err).WithField("key", key).Warn("decision cache write failed")
	}
}
