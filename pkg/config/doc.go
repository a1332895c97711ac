// Package config loads caregate configuration from an optional YAML file and
// environment variables.
//
// Defaults come from Default. When CAREGATE_CONFIG_FILE names a YAML file it
// is overlaid next, and any CAREGATE_* variable that is set wins over both.
// Durations accept Go syntax ("90s", "2m") or a bare number of seconds.
//
// Server settings:
//
//	CAREGATE_HOST="0.0.0.0"
//	CAREGATE_PORT="8080"
//	CAREGATE_SHUTDOWN_TIMEOUT="30s"
//	CAREGATE_MAINTENANCE_SCHEDULE="@every 1m"
//
// Storage and cache:
//
//	CAREGATE_DATABASE_URL="postgres://caregate@localhost/caregate"
//	CAREGATE_AUTO_MIGRATE="true"
//	CAREGATE_CACHE_BACKEND="redis"  # redis or memory
//	CAREGATE_REDIS_URL="redis://localhost:6379/0"
//
// Tokens and permissions:
//
//	CAREGATE_JWT_SECRET="..."        # required in production
//	CAREGATE_ACCESS_TTL="15m"
//	CAREGATE_REFRESH_TTL="1h"
//	CAREGATE_REVOCATION_TTL="1h"
//	CAREGATE_REFRESH_CLAIMS="reuse"  # reuse or recompute
//	CAREGATE_PERMISSION_CACHE_TTL="120"
//	CAREGATE_GLOBAL_ROLE_POLICY="everywhere"  # everywhere or platform_only
//
// Observability:
//
//	CAREGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	CAREGATE_METRICS_ENABLED="true"
//	CAREGATE_OTEL_ENABLED="true"
//	CAREGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatalf("Failed to load config: %v", err)
//	}
//	server := &http.Server{Addr: cfg.Server.Host + ":" + cfg.Server.Port}
//
// Outside production an empty JWT secret falls back to DevelopmentSecret;
// in production LoadConfig refuses to start without a real one.
package config
