package rbac

import (
	"time"

	"github.com/platinummonkey/caregate/pkg/observability"
)

// DefaultCacheTTL is the lifetime of both cache tiers
const DefaultCacheTTL = 120 * time.Second

// DefaultInvalidationConcurrency bounds the fan-out of role invalidations
const DefaultInvalidationConcurrency = 8

// DefaultResolveTimeout bounds a store resolution shared by concurrent callers
const DefaultResolveTimeout = 5 * time.Second

type options struct {
	ttl         time.Duration
	policy      GlobalRolePolicy
	concurrency int
	timeout     time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// Option configures a Resolver, PermissionChecker, Invalidator or Admin
type Option func(*options)

// WithCacheTTL sets the cache entry lifetime
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithGlobalRolePolicy sets whether global role permissions apply in hospital context
func WithGlobalRolePolicy(policy GlobalRolePolicy) Option {
	return func(o *options) {
		if policy != "" {
			o.policy = policy
		}
	}
}

// WithConcurrency bounds how many users a role invalidation clears at once
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithResolveTimeout bounds how long a shared store resolution may run
func WithResolveTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

func buildOptions(opts []Option) options {
	o := options{
		ttl:         DefaultCacheTTL,
		policy:      GlobalRoleEverywhere,
		concurrency: DefaultInvalidationConcurrency,
		timeout:     DefaultResolveTimeout,
		logger:      observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
