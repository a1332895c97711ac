package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/contextkeys"
	"github.com/platinummonkey/caregate/pkg/rbac"
)

type checkCall struct {
	userID     int64
	hospitalID *int64
	required   []string
}

// stubChecker grants a fixed set per hospital (0 for platform context)
type stubChecker struct {
	grants map[int64]rbac.PermissionSet
	err    error
	calls  []checkCall
}

func (s *stubChecker) Check(ctx context.Context, userID int64, hospitalID *int64, required []string) (*rbac.Decision, error) {
	s.calls = append(s.calls, checkCall{userID: userID, hospitalID: hospitalID, required: required})
	if s.err != nil {
		return nil, s.err
	}
	key := int64(0)
	if hospitalID != nil {
		key = *hospitalID
	}
	set, ok := s.grants[key]
	if !ok {
		set = rbac.NewPermissionSet()
	}
	missing := set.Missing(required)
	return &rbac.Decision{Allowed: len(missing) == 0, Missing: missing}, nil
}

func withAuth(r *http.Request, claims *auth.UserClaims) *http.Request {
	ac := &auth.AuthContext{Claims: claims, TokenID: "jti", Kind: auth.KindAccess}
	return r.WithContext(contextkeys.WithAuth(r.Context(), ac))
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

// serveGuarded routes path through a mux route so path vars are populated
func serveGuarded(guard func(http.Handler) http.Handler, route string, req *http.Request, called *bool) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	router.Handle(route, guard(okHandler(called)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequirePermissions_Allows(t *testing.T) {
	checker := &stubChecker{grants: map[int64]rbac.PermissionSet{
		3: rbac.NewPermissionSet("hospital.doctor.create"),
	}}
	pm := NewPermissionMiddleware(checker, nil, nil)

	var called bool
	req := withAuth(httptest.NewRequest("POST", "/hospitals/3/doctors", nil), doctorClaims())
	w := serveGuarded(pm.Require("Hospital.Doctor.Create"), "/hospitals/{hospital_id}/doctors", req, &called)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
	require.Len(t, checker.calls, 1)
	require.NotNil(t, checker.calls[0].hospitalID)
	assert.Equal(t, int64(3), *checker.calls[0].hospitalID)
	assert.Equal(t, int64(7), checker.calls[0].userID)
}

func TestRequirePermissions_Missing(t *testing.T) {
	checker := &stubChecker{grants: map[int64]rbac.PermissionSet{
		3: rbac.NewPermissionSet("doctor.profile.view"),
	}}
	var buf auditBuffer
	pm := NewPermissionMiddleware(checker, buf.logger(), nil)

	var called bool
	req := withAuth(httptest.NewRequest("DELETE", "/hospitals/3/doctors/8", nil), doctorClaims())
	guard := pm.Require("hospital.doctor.delete", "doctor.profile.view", "billing.invoice.view")
	w := serveGuarded(guard, "/hospitals/{hospital_id}/doctors/{user_id}", req, &called)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)
	assert.Equal(t, "Missing permissions: [billing.invoice.view, hospital.doctor.delete]", decodeError(t, w))
	assert.Contains(t, buf.String(), auth.ActionAccessDenied)
}

func TestRequirePermissions_TenantIsolation(t *testing.T) {
	checker := &stubChecker{grants: map[int64]rbac.PermissionSet{
		3: rbac.NewPermissionSet("hospital.doctor.create"),
	}}
	pm := NewPermissionMiddleware(checker, nil, nil)

	var called bool
	req := withAuth(httptest.NewRequest("POST", "/hospitals/4/doctors", nil), doctorClaims())
	w := serveGuarded(pm.Require("hospital.doctor.create"), "/hospitals/{hospital_id}/doctors", req, &called)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)
}

func TestRequirePermissions_TenantFromQuery(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   *int64
	}{
		{"numeric", "/reports?hospital_id=4", ptr(4)},
		{"missing", "/reports", nil},
		{"zero", "/reports?hospital_id=0", nil},
		{"negative", "/reports?hospital_id=-2", nil},
		{"non-numeric", "/reports?hospital_id=abc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &stubChecker{}
			pm := NewPermissionMiddleware(checker, nil, nil)
			var called bool
			req := withAuth(httptest.NewRequest("GET", tt.target, nil), doctorClaims())
			serveGuarded(pm.Require("reports.view"), "/reports", req, &called)

			require.Len(t, checker.calls, 1)
			assert.Equal(t, tt.want, checker.calls[0].hospitalID)
		})
	}
}

func TestRequirePermissions_CustomTenantParam(t *testing.T) {
	checker := &stubChecker{grants: map[int64]rbac.PermissionSet{5: rbac.NewPermissionSet("ward.view")}}
	pm := NewPermissionMiddleware(checker, nil, nil)

	cfg := NewGuard("ward.view")
	cfg.TenantParam = "tenant"
	var called bool
	req := withAuth(httptest.NewRequest("GET", "/wards?tenant=5", nil), doctorClaims())
	w := serveGuarded(pm.RequirePermissions(cfg), "/wards", req, &called)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestRequirePermissions_CheckError(t *testing.T) {
	checker := &stubChecker{err: errors.New("store down")}
	pm := NewPermissionMiddleware(checker, nil, nil)

	var called bool
	req := withAuth(httptest.NewRequest("GET", "/hospitals/3/doctors", nil), doctorClaims())
	w := serveGuarded(pm.Require("hospital.doctor.create"), "/hospitals/{hospital_id}/doctors", req, &called)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, called)
	assert.Equal(t, MsgCheckFailed, decodeError(t, w))
}

func TestRequirePermissions_Unauthenticated(t *testing.T) {
	pm := NewPermissionMiddleware(&stubChecker{}, nil, nil)

	var called bool
	w := serveGuarded(pm.Require("x.y"), "/x", httptest.NewRequest("GET", "/x", nil), &called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}

func TestRequirePermissions_SuperAdminBypass(t *testing.T) {
	claims := &auth.UserClaims{UserID: 9, GlobalRole: &auth.GlobalRoleClaim{RoleID: 1, RoleName: "SuperAdmin"}}

	checker := &stubChecker{}
	pm := NewPermissionMiddleware(checker, nil, nil)
	var called bool
	w := serveGuarded(pm.Require("anything.at.all"), "/x", withAuth(httptest.NewRequest("GET", "/x", nil), claims), &called)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
	assert.Empty(t, checker.calls)

	cfg := NewGuard("anything.at.all")
	cfg.AllowSuperAdmin = false
	called = false
	w = serveGuarded(pm.RequirePermissions(cfg), "/x", withAuth(httptest.NewRequest("GET", "/x", nil), claims), &called)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)
	assert.Len(t, checker.calls, 1)
}

func TestRequirePermissions_TrustSnapshot(t *testing.T) {
	h3 := int64(3)
	claims := doctorClaims()
	claims.Permissions = []auth.PermissionGroup{
		{Scope: rbac.ScopeTenant, HospitalID: &h3, Permissions: []string{"doctor.profile.view"}},
	}

	checker := &stubChecker{}
	pm := NewPermissionMiddleware(checker, nil, nil)
	cfg := NewGuard("doctor.profile.view")
	cfg.TrustSnapshot = true

	var called bool
	req := withAuth(httptest.NewRequest("GET", "/hospitals/3/profile", nil), claims)
	w := serveGuarded(pm.RequirePermissions(cfg), "/hospitals/{hospital_id}/profile", req, &called)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, checker.calls)

	// A snapshot that does not cover the request falls through to the checker.
	called = false
	req = withAuth(httptest.NewRequest("GET", "/hospitals/4/profile", nil), claims)
	w = serveGuarded(pm.RequirePermissions(cfg), "/hospitals/{hospital_id}/profile", req, &called)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, checker.calls, 1)
}

func TestRequireGlobalRoles(t *testing.T) {
	pm := NewPermissionMiddleware(&stubChecker{}, nil, nil)
	guard := pm.RequireGlobalRoles([]string{"Auditor"}, []int64{5}, true)

	tests := []struct {
		name        string
		role        *auth.GlobalRoleClaim
		wantStatus  int
		wantMessage string
	}{
		{"no role", nil, http.StatusForbidden, MsgNoGlobalRole},
		{"name match", &auth.GlobalRoleClaim{RoleID: 3, RoleName: "auditor"}, http.StatusOK, ""},
		{"id match", &auth.GlobalRoleClaim{RoleID: 5, RoleName: "ops"}, http.StatusOK, ""},
		{"superadmin", &auth.GlobalRoleClaim{RoleID: 1, RoleName: "superadmin"}, http.StatusOK, ""},
		{"mismatch", &auth.GlobalRoleClaim{RoleID: 2, RoleName: "doctor"}, http.StatusForbidden, MsgInsufficientRoles},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := doctorClaims()
			claims.GlobalRole = tt.role
			var called bool
			w := serveGuarded(guard, "/roles", withAuth(httptest.NewRequest("GET", "/roles", nil), claims), &called)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, decodeError(t, w))
			}
		})
	}
}

func TestRequireGlobalRoles_SuperAdminNotAllowed(t *testing.T) {
	pm := NewPermissionMiddleware(&stubChecker{}, nil, nil)
	guard := pm.RequireGlobalRoles([]string{"auditor"}, nil, false)

	claims := doctorClaims()
	claims.GlobalRole = &auth.GlobalRoleClaim{RoleID: 1, RoleName: "superadmin"}
	var called bool
	w := serveGuarded(guard, "/roles", withAuth(httptest.NewRequest("GET", "/roles", nil), claims), &called)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)
}

func ptr(v int64) *int64 { return &v }
