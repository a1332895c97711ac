package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/caregate/pkg/apperrors"
)

type adminFixture struct {
	admin    *Admin
	store    *Store
	resolver *Resolver
	checker  *PermissionChecker
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	db := setupTestDB(t)
	seedHospitalFixture(t, db)
	store := NewStore(db)
	mem := newTestCache(t)
	resolver := NewResolver(store, mem)
	inv := NewInvalidator(store, mem)
	return &adminFixture{
		admin:    NewAdmin(store, inv),
		store:    store,
		resolver: resolver,
		checker:  NewPermissionChecker(resolver, mem),
	}
}

func (f *adminFixture) has(t *testing.T, userID int64, hospitalID *int64, name string) bool {
	t.Helper()
	perms, err := f.resolver.Resolve(context.Background(), userID, hospitalID)
	require.NoError(t, err)
	return perms.Has(name)
}

func TestAdmin_GrantThenResolveSeesPermission(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	// Warm both tiers with the old answer.
	require.False(t, f.has(t, 7, int64Ptr(3), "billing.invoice.view"))
	d, err := f.checker.Check(ctx, 7, int64Ptr(3), []string{"billing.invoice.view"})
	require.NoError(t, err)
	require.False(t, d.Allowed)

	grant, err := f.admin.GrantPermission(ctx, 7, " Billing.Invoice.View ", ScopeTenant, int64Ptr(3))
	require.NoError(t, err)
	assert.Equal(t, "billing.invoice.view", grant.Permission)
	assert.NotZero(t, grant.ID)

	assert.True(t, f.has(t, 7, int64Ptr(3), "billing.invoice.view"))
	assert.False(t, f.has(t, 7, int64Ptr(4), "billing.invoice.view"))
	d, err = f.checker.Check(ctx, 7, int64Ptr(3), []string{"billing.invoice.view"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	again, err := f.admin.GrantPermission(ctx, 7, "billing.invoice.view", ScopeTenant, int64Ptr(3))
	require.NoError(t, err)
	assert.Equal(t, grant.ID, again.ID, "granting twice is a no-op")
}

func TestAdmin_PlatformGrantInvalidatesEveryScope(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	require.False(t, f.has(t, 7, int64Ptr(3), "billing.invoice.view"))
	require.False(t, f.has(t, 7, nil, "billing.invoice.view"))

	_, err := f.admin.GrantPermission(ctx, 7, "billing.invoice.view", ScopePlatform, nil)
	require.NoError(t, err)

	assert.True(t, f.has(t, 7, int64Ptr(3), "billing.invoice.view"))
	assert.True(t, f.has(t, 7, nil, "billing.invoice.view"))

	require.NoError(t, f.admin.RevokePermission(ctx, 7, "billing.invoice.view", ScopePlatform, nil))
	assert.False(t, f.has(t, 7, int64Ptr(3), "billing.invoice.view"))

	err = f.admin.RevokePermission(ctx, 7, "billing.invoice.view", ScopePlatform, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAdmin_GrantValidation(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		userID     int64
		permission string
		scope      Scope
		hospitalID *int64
		want       error
	}{
		{"bad scope", 7, "billing.invoice.view", Scope("ward"), nil, apperrors.ErrValidation},
		{"tenant without hospital", 7, "billing.invoice.view", ScopeTenant, nil, apperrors.ErrValidation},
		{"platform with hospital", 7, "billing.invoice.view", ScopePlatform, int64Ptr(3), apperrors.ErrValidation},
		{"unknown permission", 7, "does.not.exist", ScopePlatform, nil, apperrors.ErrValidation},
		{"blank permission", 7, "  ", ScopePlatform, nil, apperrors.ErrValidation},
		{"unknown hospital", 7, "billing.invoice.view", ScopeTenant, int64Ptr(99), apperrors.ErrNotFound},
		{"unknown user", 404, "billing.invoice.view", ScopePlatform, nil, apperrors.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.admin.GrantPermission(ctx, tt.userID, tt.permission, tt.scope, tt.hospitalID)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAdmin_AssignAndRemoveDoctor(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	require.False(t, f.has(t, 7, int64Ptr(4), "doctor.schedule.edit"))

	assignment, err := f.admin.AssignDoctor(ctx, 4, 7, 12)
	require.NoError(t, err)
	assert.Equal(t, "doctor", assignment.RoleName)
	assert.True(t, f.has(t, 7, int64Ptr(4), "doctor.schedule.edit"))

	require.NoError(t, f.admin.RemoveDoctor(ctx, 4, 7))
	assert.False(t, f.has(t, 7, int64Ptr(4), "doctor.schedule.edit"))

	// The assignment is deactivated, not deleted, and can be reactivated.
	reactivated, err := f.admin.AssignDoctor(ctx, 4, 7, 12)
	require.NoError(t, err)
	assert.Equal(t, assignment.ID, reactivated.ID)

	err = f.admin.RemoveDoctor(ctx, 3, 9)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAdmin_AssignDoctorChecks(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	insertHospital(t, f.store.db, 5, "Closed", false)

	_, err := f.admin.AssignDoctor(ctx, 3, 7, 12)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "role 12 belongs to hospital 4")

	_, err = f.admin.AssignDoctor(ctx, 3, 7, 13)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "role 13 is inactive")

	_, err = f.admin.AssignDoctor(ctx, 5, 7, 10)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "hospital 5 is inactive")

	_, err = f.admin.AssignDoctor(ctx, 3, 404, 10)
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)

	_, err = f.admin.AssignDoctor(ctx, 3, 7, 999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAdmin_SetTenantRolePermissionsInvalidatesMembers(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	require.True(t, f.has(t, 7, int64Ptr(3), "doctor.profile.view"))
	require.False(t, f.has(t, 7, int64Ptr(3), "hospital.role.update"))

	require.NoError(t, f.admin.SetTenantRolePermissions(ctx, 3, 10, []string{"Hospital.Role.Update"}))

	assert.False(t, f.has(t, 7, int64Ptr(3), "doctor.profile.view"))
	assert.True(t, f.has(t, 7, int64Ptr(3), "hospital.role.update"))

	err := f.admin.SetTenantRolePermissions(ctx, 3, 10, []string{"not.a.permission"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.True(t, f.has(t, 7, int64Ptr(3), "hospital.role.update"), "a rejected replacement leaves links intact")

	err = f.admin.SetTenantRolePermissions(ctx, 4, 10, []string{"hospital.role.update"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAdmin_SetGlobalRolePermissionsInvalidatesHolders(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	require.True(t, f.has(t, 8, nil, "platform.directory.view"))
	require.True(t, f.has(t, 8, int64Ptr(3), "platform.directory.view"))

	require.NoError(t, f.admin.SetGlobalRolePermissions(ctx, 2, []string{"billing.invoice.view"}))

	assert.False(t, f.has(t, 8, nil, "platform.directory.view"))
	assert.False(t, f.has(t, 8, int64Ptr(3), "platform.directory.view"))
	assert.True(t, f.has(t, 8, int64Ptr(3), "billing.invoice.view"))

	err := f.admin.SetGlobalRolePermissions(ctx, 77, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
