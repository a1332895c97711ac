package api

import (
	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/rbac"
)

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// StatusResponse acknowledges a mutation with no other payload
type StatusResponse struct {
	Status string `json:"status"`
}

// MeResponse is the body of GET /auth/me
type MeResponse struct {
	User        *auth.UserClaims `json:"user"`
	Permissions []string         `json:"permissions"`
}

// PermissionsResponse lists a resolved permission set. HospitalID is nil in
// platform context.
type PermissionsResponse struct {
	UserID      int64    `json:"user_id"`
	HospitalID  *int64   `json:"hospital_id,omitempty"`
	Permissions []string `json:"permissions"`
}

// AssignDoctorRequest is the body of POST /hospitals/{hospital_id}/doctors
type AssignDoctorRequest struct {
	UserID         int64 `json:"user_id"`
	HospitalRoleID int64 `json:"hospital_role_id"`
}

// GrantRequest names a direct grant to add or remove
type GrantRequest struct {
	PermissionName string     `json:"permission_name"`
	Scope          rbac.Scope `json:"scope"`
	HospitalID     *int64     `json:"hospital_id,omitempty"`
}

// RolePermissionsRequest replaces the permissions linked to a role
type RolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// RolePermissionsResponse echoes the normalized permissions now linked to a role
type RolePermissionsResponse struct {
	RoleID      int64    `json:"role_id"`
	HospitalID  *int64   `json:"hospital_id,omitempty"`
	Permissions []string `json:"permissions"`
}

const statusOK = "ok"
