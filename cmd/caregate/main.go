package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/caregate/pkg/api"
	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/cache"
	"github.com/platinummonkey/caregate/pkg/config"
	"github.com/platinummonkey/caregate/pkg/middleware"
	"github.com/platinummonkey/caregate/pkg/observability"
	"github.com/platinummonkey/caregate/pkg/rbac"
	"github.com/platinummonkey/caregate/pkg/storage"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("caregate exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	db, err := storage.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := rbac.RunMigrations(ctx, db, rbac.DialectPostgres, logger); err != nil {
			db.Close()
			return err
		}
	}

	store, err := cache.New(cfg.Cache)
	if err != nil {
		db.Close()
		return err
	}
	logger.WithField("backend", cfg.Cache.Backend).Info("cache initialized")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	policy, _ := rbac.ParseGlobalRolePolicy(cfg.RBAC.GlobalRolePolicy)
	rbacOpts := []rbac.Option{
		rbac.WithCacheTTL(cfg.RBAC.CacheTTL),
		rbac.WithGlobalRolePolicy(policy),
		rbac.WithConcurrency(cfg.RBAC.InvalidationConcurrency),
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
	}
	rbacStore := rbac.NewStore(db)
	resolver := rbac.NewResolver(rbacStore, store, rbacOpts...)
	checker := rbac.NewPermissionChecker(resolver, store, rbacOpts...)
	admin := rbac.NewAdmin(rbacStore, rbac.NewInvalidator(rbacStore, store, rbacOpts...), rbacOpts...)

	codec, err := auth.NewTokenCodec(auth.CodecConfig{
		Secret:     []byte(cfg.Auth.JWTSecret),
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return err
	}
	revocations := newRevocationRegistry(cfg, store, codec, logger, metrics)
	verifierOpts := []auth.VerifierOption{auth.WithVerifierMetrics(metrics)}
	if cfg.Auth.RevocationFailOpen {
		verifierOpts = append(verifierOpts, auth.WithFailOpen())
	}
	verifier := auth.NewTokenVerifier(codec, revocations, logger, verifierOpts...)
	refreshPolicy, _ := auth.ParseRefreshPolicy(cfg.Auth.RefreshClaims)
	sessions, err := auth.NewService(auth.ServiceConfig{
		Users:         rbacStore,
		Claims:        auth.NewClaimsBuilder(rbacStore, logger, metrics),
		Codec:         codec,
		Verifier:      verifier,
		Revoker:       revocations,
		RefreshPolicy: refreshPolicy,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.Auth.LoginRatePerMinute,
		BurstSize:         cfg.Auth.LoginBurst,
	})

	server, err := api.NewServer(api.ServerConfig{
		Sessions:      sessions,
		Authenticator: verifier,
		Resolver:      resolver,
		Checker:       checker,
		Admin:         admin,
		Audit:         auth.NewAuditLogger(logger),
		LoginLimiter:  limiter,
		Health:        observability.NewHealthChecker(db, store, version),
		Metrics:       metrics,
		Gatherer:      registry,
		Logger:        logger,
		ServiceName:   cfg.Observability.OTelServiceName,
	})
	if err != nil {
		return err
	}

	scheduler := cron.New()
	if err := scheduleMaintenance(scheduler, cfg.Server.MaintenanceSchedule, revocations, limiter, metrics, logger); err != nil {
		return err
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	shutdown.Register("cache", func(context.Context) error { return store.Close() })
	if tp != nil {
		shutdown.Register("tracing", tp.Shutdown)
	}
	shutdown.Register("maintenance", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    httpServer.Addr,
			"version": version,
		}).Info("caregate listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- shutdown.WaitForShutdown() }()

	select {
	case err := <-serveErr:
		if err == nil {
			return <-shutdownDone
		}
		timeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownErr := shutdown.Shutdown(timeout); shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("cleanup after server failure was incomplete")
		}
		return err
	case err := <-shutdownDone:
		return err
	}
}
