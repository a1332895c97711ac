package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/caregate/pkg/apperrors"
	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/httputil"
	"github.com/platinummonkey/caregate/pkg/middleware"
	"github.com/platinummonkey/caregate/pkg/observability"
	"github.com/platinummonkey/caregate/pkg/rbac"
)

// Permissions guarding the hospital administration routes
const (
	PermDoctorCreate = "hospital.doctor.create"
	PermDoctorDelete = "hospital.doctor.delete"
	PermRoleUpdate   = "hospital.role.update"
)

// SessionService issues, rotates and revokes token pairs
type SessionService interface {
	Login(ctx context.Context, email, password string) (*auth.TokenPair, error)
	Rotate(ctx context.Context, ac *auth.AuthContext) (*auth.TokenPair, error)
	Logout(ctx context.Context, ac *auth.AuthContext) error
}

// PermissionResolver returns a user's effective permissions in a context
type PermissionResolver interface {
	Resolve(ctx context.Context, userID int64, hospitalID *int64) (rbac.PermissionSet, error)
}

// TenantAdmin applies permission-affecting mutations
type TenantAdmin interface {
	AssignDoctor(ctx context.Context, hospitalID, userID, hospitalRoleID int64) (*rbac.TenantAssignment, error)
	RemoveDoctor(ctx context.Context, hospitalID, userID int64) error
	GrantPermission(ctx context.Context, userID int64, name string, scope rbac.Scope, hospitalID *int64) (*rbac.DirectGrant, error)
	RevokePermission(ctx context.Context, userID int64, name string, scope rbac.Scope, hospitalID *int64) error
	SetTenantRolePermissions(ctx context.Context, hospitalID, hospitalRoleID int64, names []string) error
	SetGlobalRolePermissions(ctx context.Context, roleID int64, names []string) error
}

// ServerConfig holds the collaborators of a Server. Sessions, Authenticator,
// Resolver, Checker and Admin are required.
type ServerConfig struct {
	Sessions      SessionService
	Authenticator middleware.Authenticator
	Resolver      PermissionResolver
	Checker       rbac.Checker
	Admin         TenantAdmin

	Audit        *auth.AuditLogger
	LoginLimiter *middleware.RateLimiter
	Health       *observability.HealthChecker
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Logger       *observability.Logger

	// ServiceName names the server span when tracing is on
	ServiceName string
}

// Server is the caregate HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler

	authm  *middleware.AuthMiddleware
	guards *middleware.PermissionMiddleware

	authHandlers     *AuthHandlers
	hospitalHandlers *HospitalHandlers
	adminHandlers    *AdminHandlers

	health   *observability.HealthChecker
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	limiter  *middleware.RateLimiter
	logger   *observability.Logger
}

// NewServer creates a new API server with all routes registered
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Sessions == nil || cfg.Authenticator == nil || cfg.Resolver == nil || cfg.Checker == nil || cfg.Admin == nil {
		return nil, fmt.Errorf("api server requires sessions, authenticator, resolver, checker and admin")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Audit == nil {
		cfg.Audit = auth.NewAuditLogger(cfg.Logger)
	}
	if cfg.LoginLimiter == nil {
		cfg.LoginLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "caregate"
	}

	s := &Server{
		router:   mux.NewRouter(),
		authm:    middleware.NewAuthMiddleware(cfg.Authenticator, cfg.Metrics),
		guards:   middleware.NewPermissionMiddleware(cfg.Checker, cfg.Audit, cfg.Metrics),
		health:   cfg.Health,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		limiter:  cfg.LoginLimiter,
		logger:   cfg.Logger,
	}
	s.authHandlers = NewAuthHandlers(cfg.Sessions, cfg.Resolver, cfg.Audit)
	s.hospitalHandlers = NewHospitalHandlers(cfg.Resolver, cfg.Admin, cfg.Audit)
	s.adminHandlers = NewAdminHandlers(cfg.Admin, cfg.Audit)

	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.ContentTypeMiddleware,
	)
	s.handler = otelhttp.NewHandler(chain(s.router), cfg.ServiceName)
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	// Operational routes
	if s.health != nil {
		s.router.HandleFunc("/health", s.health.Readiness).Methods("GET")
		s.router.HandleFunc("/health/live", s.health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", s.health.Readiness).Methods("GET")
	}
	if s.gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.gatherer)).Methods("GET")
	}

	s.authHandlers.RegisterRoutes(s.router, s.authm, s.limiter)

	// Everything below requires an access token
	protected := s.router.NewRoute().Subrouter()
	protected.Use(s.authm.Handler)

	s.hospitalHandlers.RegisterRoutes(protected, s.guards)
	s.adminHandlers.RegisterRoutes(protected, s.guards)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router without the outer middleware
func (s *Server) Router() *mux.Router {
	return s.router
}

// audit records an event and logs, rather than fails, when it cannot
func audit(al *auth.AuditLogger, r *http.Request, action, resourceType, resourceID, status string, err error) {
	if al == nil {
		return
	}
	if auditErr := al.LogFromRequest(r, action, resourceType, resourceID, status, err); auditErr != nil {
		observability.FromContext(r.Context()).WithError(auditErr).Warn("failed to write audit event")
	}
}

// writeError logs server-side failures before writing the classified response
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteError(w, err)
}
