package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/httputil"
	"github.com/platinummonkey/caregate/pkg/middleware"
	"github.com/platinummonkey/caregate/pkg/rbac"
)

// AdminHandlers serves platform administration, restricted to superadmins
type AdminHandlers struct {
	admin TenantAdmin
	audit *auth.AuditLogger
}

// NewAdminHandlers creates admin handlers
func NewAdminHandlers(admin TenantAdmin, audit *auth.AuditLogger) *AdminHandlers {
	return &AdminHandlers{admin: admin, audit: audit}
}

// RegisterRoutes registers admin routes on a router that already requires
// an access token.
func (h *AdminHandlers) RegisterRoutes(router *mux.Router, guards *middleware.PermissionMiddleware) {
	superadmin := guards.RequireGlobalRoles(nil, nil, true)

	router.Handle("/users/{user_id}/permissions", superadmin(http.HandlerFunc(h.grantPermission))).Methods("POST")
	router.Handle("/users/{user_id}/permissions", superadmin(http.HandlerFunc(h.revokePermission))).Methods("DELETE")
	router.Handle("/roles/{role_id}/permissions", superadmin(http.HandlerFunc(h.setRolePermissions))).Methods("PUT")
}

// grantPermission handles POST /users/{user_id}/permissions
func (h *AdminHandlers) grantPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	grant, err := h.admin.GrantPermission(r.Context(), userID, req.PermissionName, req.Scope, req.HospitalID)
	if err != nil {
		audit(h.audit, r, auth.ActionPermissionGrant, auth.ResourceUser, formatID(userID), auth.StatusFailure, err)
		writeError(w, r, err)
		return
	}

	audit(h.audit, r, auth.ActionPermissionGrant, auth.ResourceUser, formatID(userID), auth.StatusSuccess, nil)
	httputil.WriteCreated(w, grant)
}

// revokePermission handles DELETE /users/{user_id}/permissions
func (h *AdminHandlers) revokePermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.admin.RevokePermission(r.Context(), userID, req.PermissionName, req.Scope, req.HospitalID); err != nil {
		audit(h.audit, r, auth.ActionPermissionRevoke, auth.ResourceUser, formatID(userID), auth.StatusFailure, err)
		writeError(w, r, err)
		return
	}

	audit(h.audit, r, auth.ActionPermissionRevoke, auth.ResourceUser, formatID(userID), auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, StatusResponse{Status: statusOK})
}

// setRolePermissions handles PUT /roles/{role_id}/permissions
func (h *AdminHandlers) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	var req RolePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.admin.SetGlobalRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		audit(h.audit, r, auth.ActionRolePermissions, auth.ResourceGlobalRole, formatID(roleID), auth.StatusFailure, err)
		writeError(w, r, err)
		return
	}

	audit(h.audit, r, auth.ActionRolePermissions, auth.ResourceGlobalRole, formatID(roleID), auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, RolePermissionsResponse{
		RoleID:      roleID,
		Permissions: rbac.NewPermissionSet(req.Permissions...).Sorted(),
	})
}
