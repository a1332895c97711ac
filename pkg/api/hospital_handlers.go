package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/caregate/pkg/apperrors"
	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/httputil"
	"github.com/platinummonkey/caregate/pkg/middleware"
	"github.com/platinummonkey/caregate/pkg/rbac"
)

// HospitalHandlers serves tenant-scoped permissions and doctor administration
type HospitalHandlers struct {
	resolver PermissionResolver
	admin    TenantAdmin
	audit    *auth.AuditLogger
}

// NewHospitalHandlers creates hospital handlers
func NewHospitalHandlers(resolver PermissionResolver, admin TenantAdmin, audit *auth.AuditLogger) *HospitalHandlers {
	return &HospitalHandlers{resolver: resolver, admin: admin, audit: audit}
}

// RegisterRoutes registers hospital routes on a router that already
// requires an access token.
func (h *HospitalHandlers) RegisterRoutes(router *mux.Router, guards *middleware.PermissionMiddleware) {
	router.HandleFunc("/hospitals/{hospital_id}/permissions/me", h.myPermissions).Methods("GET")

	router.Handle("/hospitals/{hospital_id}/doctors",
		guards.Require(PermDoctorCreate)(http.HandlerFunc(h.assignDoctor))).Methods("POST")
	router.Handle("/hospitals/{hospital_id}/doctors/{user_id}",
		guards.Require(PermDoctorDelete)(http.HandlerFunc(h.removeDoctor))).Methods("DELETE")
	router.Handle("/hospitals/{hospital_id}/roles/{role_id}/permissions",
		guards.Require(PermRoleUpdate)(http.HandlerFunc(h.setRolePermissions))).Methods("PUT")
}

// myPermissions handles GET /hospitals/{hospital_id}/permissions/me
func (h *HospitalHandlers) myPermissions(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := httputil.ParsePathInt64OrError(w, r, "hospital_id")
	if !ok {
		return
	}
	ac := middleware.GetAuthContext(r)

	set, err := h.resolver.Resolve(r.Context(), ac.UserID(), &hospitalID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, PermissionsResponse{
		UserID:      ac.UserID(),
		HospitalID:  &hospitalID,
		Permissions: set.Sorted(),
	})
}

// assignDoctor handles POST /hospitals/{hospital_id}/doctors
func (h *HospitalHandlers) assignDoctor(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := httputil.ParsePathInt64OrError(w, r, "hospital_id")
	if !ok {
		return
	}
	var req AssignDoctorRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		writeError(w, r, apperrors.Validation("user_id is required", "user_id", req.UserID))
		return
	}
	if req.HospitalRoleID <= 0 {
		writeError(w, r, apperrors.Validation("hospital_role_id is required", "hospital_role_id", req.HospitalRoleID))
		return
	}

	assignment, err := h.admin.AssignDoctor(r.Context(), hospitalID, req.UserID, req.HospitalRoleID)
	if err != nil {
		audit(h.audit, r, auth.ActionDoctorAssign, auth.ResourceUser, formatID(req.UserID), auth.StatusFailure, err)
		writeError(w, r, err)
		return
	}

	audit(h.audit, r, auth.ActionDoctorAssign, auth.ResourceUser, formatID(req.UserID), auth.StatusSuccess, nil)
	httputil.WriteCreated(w, assignment)
}

// removeDoctor handles DELETE /hospitals/{hospital_id}/doctors/{user_id}
func (h *HospitalHandlers) removeDoctor(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := httputil.ParsePathInt64OrError(w, r, "hospital_id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.admin.RemoveDoctor(r.Context(), hospitalID, userID); err != nil {
		audit(h.audit, r, auth.ActionDoctorRemove, auth.ResourceUser, formatID(userID), auth.StatusFailure, err)
		writeError(w, r, err)
		return
	}

	audit(h.audit, r, auth.ActionDoctorRemove, auth.ResourceUser, formatID(userID), auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, StatusResponse{Status: statusOK})
}

// setRolePermissions handles PUT /hospitals/{hospital_id}/roles/{role_id}/permissions
func (h *HospitalHandlers) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	hospitalID, ok := httputil.ParsePathInt64OrError(w, r, "hospital_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	var req RolePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.admin.SetTenantRolePermissions(r.Context(), hospitalID, roleID, req.Permissions); err != nil {
		audit(h.audit, r, auth.ActionRolePermissions, auth.ResourceHospitalRole, formatID(roleID), auth.StatusFailure, err)
		writeError(w, r, err)
		return
	}

	audit(h.audit, r, auth.ActionRolePermissions, auth.ResourceHospitalRole, formatID(roleID), auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, RolePermissionsResponse{
		RoleID:      roleID,
		HospitalID:  &hospitalID,
		Permissions: rbac.NewPermissionSet(req.Permissions...).Sorted(),
	})
}
