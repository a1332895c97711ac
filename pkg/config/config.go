package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/cache"
	"github.com/platinummonkey/caregate/pkg/observability"
	"github.com/platinummonkey/caregate/pkg/rbac"
	"github.com/platinummonkey/caregate/pkg/storage"
)

// EnvProduction is the CAREGATE_ENV value that enables strict validation
const EnvProduction = "production"

// DevelopmentSecret signs tokens outside production when no secret is set
const DevelopmentSecret = "caregate-development-secret"

// Config holds all application configuration
type Config struct {
	Env string `yaml:"env"`

	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration
	Database storage.Config `yaml:"database"`

	// Cache configuration
	Cache cache.Config `yaml:"cache"`

	// Token and session configuration
	Auth AuthConfig `yaml:"auth"`

	// Permission resolution configuration
	RBAC RBACConfig `yaml:"rbac"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaintenanceSchedule is the cron expression for revocation purge and limiter pruning
	MaintenanceSchedule string `yaml:"maintenance_schedule"`
}

// AuthConfig holds token, revocation and login settings
type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	Issuer             string        `yaml:"issuer"`
	AccessTTL          time.Duration `yaml:"access_ttl"`
	RefreshTTL         time.Duration `yaml:"refresh_ttl"`
	RevocationTTL      time.Duration `yaml:"revocation_ttl"`
	RefreshClaims      string        `yaml:"refresh_claims"`
	RevocationFailOpen bool          `yaml:"revocation_fail_open"`
	LoginRatePerMinute int           `yaml:"login_rate_per_minute"`
	LoginBurst         int           `yaml:"login_burst"`
}

// RBACConfig holds permission resolution settings
type RBACConfig struct {
	CacheTTL                time.Duration `yaml:"cache_ttl"`
	GlobalRolePolicy        string        `yaml:"global_role_policy"`
	InvalidationConcurrency int           `yaml:"invalidation_concurrency"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel `yaml:"-"`
	// LogLevelName is the configured level before parsing
	LogLevelName string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                "8080",
			ReadTimeout:         15 * time.Second,
			WriteTimeout:        15 * time.Second,
			IdleTimeout:         60 * time.Second,
			ShutdownTimeout:     30 * time.Second,
			MaintenanceSchedule: "@every 1m",
		},
		Database: storage.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
		Auth: AuthConfig{
			Issuer:             "caregate",
			AccessTTL:          auth.DefaultAccessTTL,
			RefreshTTL:         auth.DefaultRefreshTTL,
			RevocationTTL:      auth.DefaultRevocationTTL,
			RefreshClaims:      string(auth.RefreshReuse),
			LoginRatePerMinute: 10,
			LoginBurst:         5,
		},
		RBAC: RBACConfig{
			CacheTTL:                rbac.DefaultCacheTTL,
			GlobalRolePolicy:        string(rbac.GlobalRoleEverywhere),
			InvalidationConcurrency: rbac.DefaultInvalidationConcurrency,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			LogLevelName:       "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "caregate",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig loads configuration from the optional CAREGATE_CONFIG_FILE and
// then from environment variables, which take precedence.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CAREGATE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	if cfg.Auth.JWTSecret == "" && !cfg.IsProduction() {
		cfg.Auth.JWTSecret = DevelopmentSecret
	}
	cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path onto c
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides c with any CAREGATE_* variables that are set
func (c *Config) applyEnv() {
	c.Env = getEnv("CAREGATE_ENV", c.Env)

	s := &c.Server
	s.Host = getEnv("CAREGATE_HOST", s.Host)
	s.Port = getEnv("CAREGATE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("CAREGATE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("CAREGATE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("CAREGATE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("CAREGATE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaintenanceSchedule = getEnv("CAREGATE_MAINTENANCE_SCHEDULE", s.MaintenanceSchedule)

	d := &c.Database
	d.URL = getEnv("CAREGATE_DATABASE_URL", d.URL)
	d.MaxConns = getEnvInt("CAREGATE_DATABASE_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("CAREGATE_DATABASE_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("CAREGATE_DATABASE_TIMEOUT", d.Timeout)
	d.MaxLifetime = getEnvDuration("CAREGATE_DATABASE_MAX_LIFETIME", d.MaxLifetime)
	d.MaxIdleTime = getEnvDuration("CAREGATE_DATABASE_MAX_IDLE_TIME", d.MaxIdleTime)
	d.AutoMigrate = getEnvBool("CAREGATE_AUTO_MIGRATE", d.AutoMigrate)

	cc := &c.Cache
	cc.Backend = strings.ToLower(getEnv("CAREGATE_CACHE_BACKEND", cc.Backend))
	cc.RedisURL = getEnv("CAREGATE_REDIS_URL", cc.RedisURL)
	cc.RedisPassword = getEnv("CAREGATE_REDIS_PASSWORD", cc.RedisPassword)
	cc.RedisDB = getEnvInt("CAREGATE_REDIS_DB", cc.RedisDB)
	cc.RedisMaxRetries = getEnvInt("CAREGATE_REDIS_MAX_RETRIES", cc.RedisMaxRetries)
	cc.RedisPoolSize = getEnvInt("CAREGATE_REDIS_POOL_SIZE", cc.RedisPoolSize)
	cc.MemoryMaxEntries = getEnvInt("CAREGATE_CACHE_MAX_ENTRIES", cc.MemoryMaxEntries)
	cc.MemoryMaxTTL = getEnvDuration("CAREGATE_CACHE_MAX_TTL", cc.MemoryMaxTTL)

	a := &c.Auth
	a.JWTSecret = getEnv("CAREGATE_JWT_SECRET", a.JWTSecret)
	a.Issuer = getEnv("CAREGATE_JWT_ISSUER", a.Issuer)
	a.AccessTTL = getEnvDuration("CAREGATE_ACCESS_TTL", a.AccessTTL)
	a.RefreshTTL = getEnvDuration("CAREGATE_REFRESH_TTL", a.RefreshTTL)
	a.RevocationTTL = getEnvDuration("CAREGATE_REVOCATION_TTL", a.RevocationTTL)
	a.RefreshClaims = getEnv("CAREGATE_REFRESH_CLAIMS", a.RefreshClaims)
	a.RevocationFailOpen = getEnvBool("CAREGATE_REVOCATION_FAIL_OPEN", a.RevocationFailOpen)
	a.LoginRatePerMinute = getEnvInt("CAREGATE_LOGIN_RATE_PER_MINUTE", a.LoginRatePerMinute)
	a.LoginBurst = getEnvInt("CAREGATE_LOGIN_BURST", a.LoginBurst)

	r := &c.RBAC
	r.CacheTTL = getEnvDuration("CAREGATE_PERMISSION_CACHE_TTL", r.CacheTTL)
	r.GlobalRolePolicy = getEnv("CAREGATE_GLOBAL_ROLE_POLICY", r.GlobalRolePolicy)
	r.InvalidationConcurrency = getEnvInt("CAREGATE_INVALIDATION_CONCURRENCY", r.InvalidationConcurrency)

	o := &c.Observability
	o.LogLevelName = getEnv("CAREGATE_LOG_LEVEL", o.LogLevelName)
	o.MetricsEnabled = getEnvBool("CAREGATE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("CAREGATE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("CAREGATE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("CAREGATE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("CAREGATE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("CAREGATE_OTEL_INSECURE", o.OTelInsecure)
}

// IsProduction reports whether strict production checks apply
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, EnvProduction)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("CAREGATE_JWT_SECRET is required")
	}
	if c.IsProduction() && c.Auth.JWTSecret == DevelopmentSecret {
		return fmt.Errorf("the development JWT secret cannot be used in production")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.RevocationTTL <= 0 {
		return fmt.Errorf("token and revocation TTLs must be positive")
	}
	if c.Auth.AccessTTL > c.Auth.RefreshTTL {
		return fmt.Errorf("access TTL %v must not exceed refresh TTL %v", c.Auth.AccessTTL, c.Auth.RefreshTTL)
	}
	if longest := max(c.Auth.AccessTTL, c.Auth.RefreshTTL); c.Auth.RevocationTTL < longest {
		return fmt.Errorf("revocation TTL %v must cover the longest token lifetime %v", c.Auth.RevocationTTL, longest)
	}
	if _, err := auth.ParseRefreshPolicy(c.Auth.RefreshClaims); err != nil {
		return err
	}
	if c.Auth.LoginRatePerMinute <= 0 || c.Auth.LoginBurst <= 0 {
		return fmt.Errorf("login rate and burst must be positive")
	}

	if c.RBAC.CacheTTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}
	if _, err := rbac.ParseGlobalRolePolicy(c.RBAC.GlobalRolePolicy); err != nil {
		return err
	}

	switch c.Cache.Backend {
	case cache.BackendMemory:
	case cache.BackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be %s or %s)", c.Cache.Backend, cache.BackendRedis, cache.BackendMemory)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
// Bare integers are read as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
