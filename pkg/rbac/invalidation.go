package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/caregate/pkg/cache"
)

// Invalidation triggers used as metric labels
const (
	TriggerUser       = "user"
	TriggerUserGlobal = "user_everywhere"
	TriggerTenantRole = "tenant_role"
	TriggerGlobalRole = "global_role"
)

// Invalidator deletes cached permission sets and decisions after a mutation
type Invalidator struct {
	members MembershipSource
	cache   cache.Store
	opts    options
}

// NewInvalidator creates an invalidator over the cache
func NewInvalidator(members MembershipSource, store cache.Store, opts ...Option) *Invalidator {
	return &Invalidator{
		members: members,
		cache:   store,
		opts:    buildOptions(opts),
	}
}

// InvalidateUser clears the user's permission set and decisions for one scope
func (inv *Invalidator) InvalidateUser(ctx context.Context, userID int64, hospitalID *int64) error {
	inv.opts.metrics.Invalidation(TriggerUser)

	var errs []error
	if err := inv.cache.Delete(ctx, PermissionSetKey(userID, hospitalID)); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete permission set: %w", err))
	}
	if _, err := inv.cache.DeletePattern(ctx, decisionScopePattern(userID, hospitalID)); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete decisions: %w", err))
	}
	return errors.Join(errs...)
}

// InvalidateUserEverywhere clears the user's entries in every scope
func (inv *Invalidator) InvalidateUserEverywhere(ctx context.Context, userID int64) error {
	inv.opts.metrics.Invalidation(TriggerUserGlobal)

	var errs []error
	for _, pattern := range []string{userPermissionSetPattern(userID), userDecisionPattern(userID)} {
		if _, err := inv.cache.DeletePattern(ctx, pattern); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", pattern, err))
		}
	}
	return errors.Join(errs...)
}

// InvalidateTenantRole clears every active member of a hospital role in that hospital
func (inv *Invalidator) InvalidateTenantRole(ctx context.Context, hospitalRoleID, hospitalID int64) error {
	inv.opts.metrics.Invalidation(TriggerTenantRole)

	userIDs, err := inv.members.GetActiveMemberIDs(ctx, hospitalRoleID, hospitalID)
	if err != nil {
		return fmt.Errorf("failed to list hospital role members: %w", err)
	}
	return inv.fanOut(ctx, userIDs, func(ctx context.Context, userID int64) error {
		return inv.InvalidateUser(ctx, userID, &hospitalID)
	})
}

// InvalidateGlobalRole clears every holder of a global role in every scope
func (inv *Invalidator) InvalidateGlobalRole(ctx context.Context, roleID int64) error {
	inv.opts.metrics.Invalidation(TriggerGlobalRole)

	userIDs, err := inv.members.GetUserIDsWithGlobalRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("failed to list global role holders: %w", err)
	}
	return inv.fanOut(ctx, userIDs, inv.InvalidateUserEverywhere)
}

// fanOut runs fn for every user with bounded concurrency. A failure for one
// user does not stop the others.
func (inv *Invalidator) fanOut(ctx context.Context, userIDs []int64, fn func(context.Context, int64) error) error {
	var g errgroup.Group
	g.SetLimit(inv.opts.concurrency)

	var mu sync.Mutex
	var errs []error
	for _, userID := range userIDs {
		g.Go(func() error {
			if err := fn(ctx, userID); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("user %d: %w", userID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
