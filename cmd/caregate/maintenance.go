package main

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/caregate/pkg/observability"
)

type revocationPurger interface {
	PurgeExpired() int
	FallbackSize() int
}

type limiterPruner interface {
	Prune() int
}

// maintenance sweeps the in-process state that has no expiry of its own:
// the fallback revocation map and idle login rate limit buckets.
type maintenance struct {
	revocations revocationPurger
	limiter     limiterPruner
	metrics     *observability.Metrics
	logger      *observability.Logger
}

func (m *maintenance) run() {
	purged := m.revocations.PurgeExpired()
	m.metrics.SetFallbackSize(m.revocations.FallbackSize())
	pruned := m.limiter.Prune()

	if purged > 0 || pruned > 0 {
		m.logger.WithFields(map[string]interface{}{
			"revocations_purged": purged,
			"limiters_pruned":    pruned,
		}).Debug("maintenance sweep complete")
	}
}

func scheduleMaintenance(c *cron.Cron, schedule string, revocations revocationPurger, limiter limiterPruner, metrics *observability.Metrics, logger *observability.Logger) error {
	m := &maintenance{revocations: revocations, limiter: limiter, metrics: metrics, logger: logger}
	if _, err := c.AddFunc(schedule, m.run); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	logger.WithField("schedule", schedule).Info("maintenance scheduled")
	return nil
}
