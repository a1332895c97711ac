package main

import (
	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/cache"
	"github.com/platinummonkey/caregate/pkg/config"
	"github.com/platinummonkey/caregate/pkg/observability"
)

// newRevocationRegistry picks where revoked ids live. The memory backend is
// a bounded LRU shared with the permission caches, so revocations stay in
// the registry's own map there. Entries are kept at least as long as the
// longest token the codec issues.
func newRevocationRegistry(cfg *config.Config, store cache.Store, codec *auth.TokenCodec, logger *observability.Logger, metrics *observability.Metrics) *auth.RevocationRegistry {
	maxTTL := max(cfg.Auth.RevocationTTL, codec.MaxTTL())
	if cfg.Cache.Backend == cache.BackendMemory {
		logger.Info("memory cache backend: revocations kept in process")
		return auth.NewLocalRevocationRegistry(maxTTL, logger, metrics)
	}
	return auth.NewRevocationRegistry(store, maxTTL, logger, metrics)
}
