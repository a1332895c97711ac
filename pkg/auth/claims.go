package auth

import (
	"context"
	"fmt"

	"github.com/platinummonkey/caregate/pkg/observability"
	"github.com/platinummonkey/caregate/pkg/rbac"
)

// Snapshot sources used in SnapshotResult and as metric labels
const (
	SourceDirectGrants = "direct_grants"
	SourceGlobalRole   = "global_role"
	SourceTenantRoles  = "tenant_roles"
)

// ClaimsSource is the store surface needed to build a snapshot
type ClaimsSource interface {
	GetGlobalRole(ctx context.Context, roleID int64) (*rbac.GlobalRole, error)
	GetGlobalRolePermissions(ctx context.Context, roleID int64) ([]string, error)
	GetActiveAssignments(ctx context.Context, userID int64, hospitalID *int64) ([]rbac.TenantAssignment, error)
	GetTenantRolePermissions(ctx context.Context, hospitalRoleID int64) ([]string, error)
	GetDirectGrants(ctx context.Context, userID int64) ([]rbac.DirectGrant, error)
}

// SnapshotResult records which snapshot sources failed. A failed source
// contributes nothing to the claims; the others are still used.
type SnapshotResult struct {
	DirectGrants error
	GlobalRole   error
	TenantRoles  error
}

// Complete reports whether every source succeeded
func (r SnapshotResult) Complete() bool {
	return r.DirectGrants == nil && r.GlobalRole == nil && r.TenantRoles == nil
}

// Failed returns the names of the failed sources
func (r SnapshotResult) Failed() map[string]error {
	failed := make(map[string]error)
	if r.DirectGrants != nil {
		failed[SourceDirectGrants] = r.DirectGrants
	}
	if r.GlobalRole != nil {
		failed[SourceGlobalRole] = r.GlobalRole
	}
	if r.TenantRoles != nil {
		failed[SourceTenantRoles] = r.TenantRoles
	}
	return failed
}

// ClaimsBuilder assembles the UserClaims snapshot embedded in tokens
type ClaimsBuilder struct {
	source  ClaimsSource
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewClaimsBuilder creates a builder over source
func NewClaimsBuilder(source ClaimsSource, logger *observability.Logger, metrics *observability.Metrics) *ClaimsBuilder {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &ClaimsBuilder{source: source, logger: logger, metrics: metrics}
}

// Build snapshots the user's global role, hospital roles and grouped
// permissions. It never fails outright; see SnapshotResult.
func (b *ClaimsBuilder) Build(ctx context.Context, user *rbac.User) (*UserClaims, SnapshotResult) {
	var result SnapshotResult
	claims := &UserClaims{
		UserID:        user.ID,
		Username:      user.Username,
		Email:         user.Email,
		HospitalRoles: []TenantRoleClaim{},
	}
	platform := rbac.NewPermissionSet()
	tenants := make(map[int64]rbac.PermissionSet)

	if user.GlobalRoleID != nil {
		role, perms, err := b.globalRole(ctx, *user.GlobalRoleID)
		if err != nil {
			result.GlobalRole = err
		} else {
			claims.GlobalRole = &GlobalRoleClaim{RoleID: role.ID, RoleName: role.Name}
			platform.Add(perms...)
		}
	}

	roles, rolePerms, err := b.tenantRoles(ctx, user.ID)
	if err != nil {
		result.TenantRoles = err
	} else {
		claims.HospitalRoles = roles
		for hospitalID, set := range rolePerms {
			tenantSet(tenants, hospitalID).Merge(set)
		}
	}

	grants, err := b.source.GetDirectGrants(ctx, user.ID)
	if err != nil {
		result.DirectGrants = fmt.Errorf("failed to load direct grants: %w", err)
	} else {
		for _, g := range grants {
			switch {
			case g.Scope == rbac.ScopePlatform:
				platform.Add(g.Permission)
			case g.Scope == rbac.ScopeTenant && g.HospitalID != nil:
				tenantSet(tenants, *g.HospitalID).Add(g.Permission)
			}
		}
	}

	claims.Permissions = sortedGroups(platform, tenants)

	for source, err := range result.Failed() {
		b.metrics.SnapshotFailure(source)
		b.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id": user.ID,
			"source":  source,
		}).Warn("claims snapshot source failed, issuing partial snapshot")
	}
	return claims, result
}

func (b *ClaimsBuilder) globalRole(ctx context.Context, roleID int64) (*rbac.GlobalRole, []string, error) {
	role, err := b.source.GetGlobalRole(ctx, roleID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load global role: %w", err)
	}
	perms, err := b.source.GetGlobalRolePermissions(ctx, roleID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load global role permissions: %w", err)
	}
	return role, perms, nil
}

// tenantRoles lists the active assignments and their permissions. A failure
// on any role discards the whole source.
func (b *ClaimsBuilder) tenantRoles(ctx context.Context, userID int64) ([]TenantRoleClaim, map[int64]rbac.PermissionSet, error) {
	assignments, err := b.source.GetActiveAssignments(ctx, userID, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load hospital role assignments: %w", err)
	}

	roles := make([]TenantRoleClaim, 0, len(assignments))
	perms := make(map[int64]rbac.PermissionSet)
	for _, a := range assignments {
		names, err := b.source.GetTenantRolePermissions(ctx, a.HospitalRoleID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load permissions for hospital role %d: %w", a.HospitalRoleID, err)
		}
		roles = append(roles, TenantRoleClaim{
			HospitalID:     a.HospitalID,
			HospitalRoleID: a.HospitalRoleID,
			RoleName:       a.RoleName,
		})
		tenantSet(perms, a.HospitalID).Add(names...)
	}
	return roles, perms, nil
}

func tenantSet(m map[int64]rbac.PermissionSet, hospitalID int64) rbac.PermissionSet {
	set, ok := m[hospitalID]
	if !ok {
		set = rbac.NewPermissionSet()
		m[hospitalID] = set
	}
	return set
}
