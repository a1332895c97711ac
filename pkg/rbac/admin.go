package rbac

import (
	"context"

	"github.com/platinummonkey/caregate/pkg/apperrors"
)

// Admin applies permission-affecting mutations and invalidates the caches
// they affect once the write has committed.
type Admin struct {
	store       *Store
	invalidator *Invalidator
	opts        options
}

// NewAdmin creates an admin service
func NewAdmin(store *Store, invalidator *Invalidator, opts ...Option) *Admin {
	return &Admin{store: store, invalidator: invalidator, opts: buildOptions(opts)}
}

// AssignDoctor gives a user a role in a hospital, reactivating a previous
// assignment when one exists.
func (a *Admin) AssignDoctor(ctx context.Context, hospitalID, userID, hospitalRoleID int64) (*TenantAssignment, error) {
	if err := a.ensureActiveHospital(ctx, hospitalID); err != nil {
		return nil, err
	}
	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	role, err := a.ensureHospitalRoleBelongsToHospital(ctx, hospitalRoleID, hospitalID)
	if err != nil {
		return nil, err
	}
	if !role.IsActive {
		return nil, apperrors.Validation("hospital role is inactive", "hospital_role_id", hospitalRoleID)
	}

	assignment, err := a.store.UpsertAssignment(ctx, hospitalID, userID, hospitalRoleID)
	if err != nil {
		return nil, err
	}
	assignment.RoleName = role.Name

	a.afterCommit("assign doctor", a.invalidator.InvalidateUser(ctx, userID, &hospitalID))
	return assignment, nil
}

// RemoveDoctor deactivates every role the user holds in the hospital
func (a *Admin) RemoveDoctor(ctx context.Context, hospitalID, userID int64) error {
	if _, err := a.store.GetHospital(ctx, hospitalID); err != nil {
		return err
	}
	n, err := a.store.DeactivateAssignments(ctx, hospitalID, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound("Doctor", userID).WithContext("hospital_id", hospitalID)
	}

	a.afterCommit("remove doctor", a.invalidator.InvalidateUser(ctx, userID, &hospitalID))
	return nil
}

// GrantPermission gives the user a direct permission in the given scope.
// Granting an existing permission is a no-op.
func (a *Admin) GrantPermission(ctx context.Context, userID int64, name string, scope Scope, hospitalID *int64) (*DirectGrant, error) {
	grant, err := a.validateGrant(ctx, userID, name, scope, hospitalID)
	if err != nil {
		return nil, err
	}
	if err := a.store.InsertDirectGrant(ctx, grant); err != nil {
		return nil, err
	}

	a.afterCommit("grant permission", a.invalidateGrantScope(ctx, grant))
	return grant, nil
}

// RevokePermission removes a direct permission from the user
func (a *Admin) RevokePermission(ctx context.Context, userID int64, name string, scope Scope, hospitalID *int64) error {
	grant, err := a.validateGrant(ctx, userID, name, scope, hospitalID)
	if err != nil {
		return err
	}
	n, err := a.store.DeleteDirectGrant(ctx, grant.UserID, grant.Permission, grant.Scope, grant.HospitalID)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound("Permission grant", userID).WithContext("permission", grant.Permission)
	}

	a.afterCommit("revoke permission", a.invalidateGrantScope(ctx, grant))
	return nil
}

// SetTenantRolePermissions replaces the permissions of a hospital role and
// invalidates all of its active members.
func (a *Admin) SetTenantRolePermissions(ctx context.Context, hospitalID, hospitalRoleID int64, names []string) error {
	if _, err := a.ensureHospitalRoleBelongsToHospital(ctx, hospitalRoleID, hospitalID); err != nil {
		return err
	}
	if err := a.store.ReplaceTenantRolePermissions(ctx, hospitalRoleID, normalizeRequired(names)); err != nil {
		return err
	}

	a.afterCommit("set hospital role permissions", a.invalidator.InvalidateTenantRole(ctx, hospitalRoleID, hospitalID))
	return nil
}

// SetGlobalRolePermissions replaces the permissions of a global role and
// invalidates every holder.
func (a *Admin) SetGlobalRolePermissions(ctx context.Context, roleID int64, names []string) error {
	if _, err := a.store.GetGlobalRole(ctx, roleID); err != nil {
		return err
	}
	if err := a.store.ReplaceGlobalRolePermissions(ctx, roleID, normalizeRequired(names)); err != nil {
		return err
	}

	a.afterCommit("set global role permissions", a.invalidator.InvalidateGlobalRole(ctx, roleID))
	return nil
}

func (a *Admin) validateGrant(ctx context.Context, userID int64, name string, scope Scope, hospitalID *int64) (*DirectGrant, error) {
	parsed, err := ParseScope(string(scope))
	if err != nil {
		return nil, apperrors.Validation(err.Error(), "scope", string(scope))
	}
	scope = parsed
	name = NormalizePermission(name)
	if name == "" {
		return nil, apperrors.Validation("permission name is required", "permission_name", name)
	}

	switch scope {
	case ScopeTenant:
		if hospitalID == nil || *hospitalID <= 0 {
			return nil, apperrors.Validation("hospital_id is required for tenant scope", "hospital_id", nil)
		}
		if _, err := a.store.GetHospital(ctx, *hospitalID); err != nil {
			return nil, err
		}
	case ScopePlatform:
		if hospitalID != nil {
			return nil, apperrors.Validation("hospital_id must be empty for platform scope", "hospital_id", *hospitalID)
		}
	}

	exists, err := a.store.PermissionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.Validation("unknown permission: "+name, "permission_name", name)
	}
	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	return &DirectGrant{UserID: userID, Permission: name, Scope: scope, HospitalID: hospitalID}, nil
}

// invalidateGrantScope clears what a grant change can affect. Platform
// grants apply in every hospital, so they clear every scope.
func (a *Admin) invalidateGrantScope(ctx context.Context, grant *DirectGrant) error {
	if grant.Scope == ScopePlatform {
		return a.invalidator.InvalidateUserEverywhere(ctx, grant.UserID)
	}
	return a.invalidator.InvalidateUser(ctx, grant.UserID, grant.HospitalID)
}

func (a *Admin) ensureActiveHospital(ctx context.Context, hospitalID int64) error {
	h, err := a.store.GetHospital(ctx, hospitalID)
	if err != nil {
		return err
	}
	if !h.IsActive {
		return apperrors.Validation("hospital is inactive", "hospital_id", hospitalID)
	}
	return nil
}

func (a *Admin) ensureHospitalRoleBelongsToHospital(ctx context.Context, hospitalRoleID, hospitalID int64) (*TenantRole, error) {
	role, err := a.store.GetTenantRole(ctx, hospitalRoleID)
	if err != nil {
		return nil, err
	}
	if role.HospitalID != hospitalID {
		return nil, apperrors.Validation("hospital role does not belong to hospital", "hospital_role_id", hospitalRoleID).
			WithContext("hospital_id", hospitalID)
	}
	return role, nil
}

// afterCommit logs a failed invalidation. The mutation has already
// committed, so a stale entry lives at most one TTL.
func (a *Admin) afterCommit(op string, err error) {
	if err == nil {
		return
	}
	a.opts.logger.WithError(err).WithField("operation", op).Error("cache invalidation failed after commit")
}
