package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/httputil"
	"github.com/platinummonkey/caregate/pkg/observability"
	"github.com/platinummonkey/caregate/pkg/rbac"
)

// DefaultTenantParam names the path or query parameter carrying the hospital id
const DefaultTenantParam = "hospital_id"

// Guard failure messages
const (
	MsgAuthRequired      = "authentication required"
	MsgCheckFailed       = "Permission check failed"
	MsgNoGlobalRole      = "User has no global role assigned"
	MsgInsufficientRoles = "Insufficient role privileges"
)

// GuardConfig configures a named-permission guard. Build one with NewGuard
// to get the defaults.
type GuardConfig struct {
	// Permissions must all be held. Matching is case-insensitive.
	Permissions []string
	// TenantParam is read from the mux path vars, then the query string.
	// A missing, non-numeric or non-positive value means platform context.
	TenantParam string
	// AllowSuperAdmin lets the superadmin global role pass without a check
	AllowSuperAdmin bool
	// TrustSnapshot passes requests whose token snapshot already covers
	// Permissions. A snapshot that does not cover them falls through to
	// the resolver.
	TrustSnapshot bool
}

// NewGuard returns a guard for perms with the superadmin bypass on and the
// default tenant parameter.
func NewGuard(perms ...string) GuardConfig {
	return GuardConfig{
		Permissions:     perms,
		TenantParam:     DefaultTenantParam,
		AllowSuperAdmin: true,
	}
}

// PermissionMiddleware enforces permission and global role guards. It must
// run after AuthMiddleware.
type PermissionMiddleware struct {
	checker rbac.Checker
	audit   *auth.AuditLogger
	metrics *observability.Metrics
}

// NewPermissionMiddleware creates guard middleware. audit may be nil.
func NewPermissionMiddleware(checker rbac.Checker, audit *auth.AuditLogger, metrics *observability.Metrics) *PermissionMiddleware {
	return &PermissionMiddleware{checker: checker, audit: audit, metrics: metrics}
}

// Require guards with NewGuard(perms...)
func (m *PermissionMiddleware) Require(perms ...string) func(http.Handler) http.Handler {
	return m.RequirePermissions(NewGuard(perms...))
}

// RequirePermissions creates middleware that checks every permission in
// cfg against the hospital named by the request.
func (m *PermissionMiddleware) RequirePermissions(cfg GuardConfig) func(http.Handler) http.Handler {
	if cfg.TenantParam == "" {
		cfg.TenantParam = DefaultTenantParam
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := GetAuthContext(r)
			if ac == nil || ac.Claims == nil {
				httputil.WriteUnauthorized(w, MsgAuthRequired)
				return
			}
			if cfg.AllowSuperAdmin && ac.Claims.IsSuperAdmin() {
				m.metrics.Decision("superadmin")
				next.ServeHTTP(w, r)
				return
			}

			hospitalID := httputil.OptionalID(r, cfg.TenantParam)
			if cfg.TrustSnapshot && len(ac.Claims.SnapshotPermissions(hospitalID).Missing(cfg.Permissions)) == 0 {
				m.metrics.Decision("snapshot")
				next.ServeHTTP(w, r)
				return
			}

			logger := observability.FromContext(r.Context())
			decision, err := m.checker.Check(r.Context(), ac.UserID(), hospitalID, cfg.Permissions)
			if err != nil {
				logger.WithError(err).WithField("permissions", cfg.Permissions).Error("permission check failed")
				httputil.WriteInternalError(w, MsgCheckFailed)
				return
			}
			if !decision.Allowed {
				message := fmt.Sprintf("Missing permissions: [%s]", strings.Join(decision.Missing, ", "))
				logger.WithField("missing_permissions", decision.Missing).Info("permission denied")
				m.recordDenial(r, strings.Join(decision.Missing, ","))
				httputil.WriteForbidden(w, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireGlobalRoles passes users whose global role matches one of names or
// ids. Superadmins pass when allowSuperAdmin is set.
func (m *PermissionMiddleware) RequireGlobalRoles(names []string, ids []int64, allowSuperAdmin bool) func(http.Handler) http.Handler {
	wantNames := make(map[string]struct{}, len(names))
	for _, name := range names {
		wantNames[rbac.NormalizePermission(name)] = struct{}{}
	}
	wantIDs := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wantIDs[id] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := GetAuthContext(r)
			if ac == nil || ac.Claims == nil {
				httputil.WriteUnauthorized(w, MsgAuthRequired)
				return
			}

			role := ac.Claims.GlobalRole
			if role == nil {
				m.recordDenial(r, "global_role")
				httputil.WriteForbidden(w, MsgNoGlobalRole)
				return
			}
			if allowSuperAdmin && rbac.IsSuperAdmin(role.RoleName) {
				m.metrics.Decision("superadmin")
				next.ServeHTTP(w, r)
				return
			}

			_, nameOK := wantNames[rbac.NormalizePermission(role.RoleName)]
			_, idOK := wantIDs[role.RoleID]
			if !nameOK && !idOK {
				m.recordDenial(r, "global_role")
				httputil.WriteForbidden(w, MsgInsufficientRoles)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *PermissionMiddleware) recordDenial(r *http.Request, resourceID string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogFromRequest(r, auth.ActionAccessDenied, "permission", resourceID, auth.StatusDenied, nil); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to write audit event")
	}
}
