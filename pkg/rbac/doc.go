// Package rbac resolves, caches and invalidates the effective permissions of
// hospital users.
//
// # Overview
//
// Permissions reach a user from three independent sources:
//
//  1. Direct grants, scoped either to the platform or to one hospital
//  2. The user's global role, through role_permissions
//  3. Each active hospital role assignment, through hospital_role_permissions
//
// In a hospital context the effective set is the union of the platform
// grants, the global role permissions, the grants for that hospital and the
// permissions of the user's active roles in that hospital. In platform
// context hospital grants and hospital roles contribute nothing.
//
// Whether global role permissions apply inside a hospital is a policy:
//
//	resolver := rbac.NewResolver(store, cacheStore,
//		rbac.WithGlobalRolePolicy(rbac.GlobalRolePlatformOnly),
//	)
//
// # Caching
//
// Two cache tiers sit in front of the store. The Resolver memoizes whole
// permission sets under
//
//	user:{user_id}:hospital:{hospital_id|global}:perms
//
// and the PermissionChecker memoizes individual guard decisions under
//
//	permcheck:user:{user_id}:hospital:{hospital_id|global}:{sorted,required}
//
// Both tiers share one TTL. A cache read failure falls back to the store. A
// store failure is returned to the caller and never cached.
//
// # Invalidation
//
// Every mutation made through Admin runs the Invalidator after commit. A
// grant change clears the affected user's entries for the affected scope. A
// hospital role change clears every active member of that role. A global
// role change clears every holder of that role in every scope.
//
// Invalidation does not take locks. A resolve that started before a mutation
// may write its result after the invalidation ran, so an entry can be stale
// for at most one TTL.
package rbac
