package auth

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/caregate/pkg/rbac"
)

// TokenKind distinguishes access tokens from refresh tokens
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// TokenType is the scheme clients send tokens with
const TokenType = "Bearer"

// GlobalRoleClaim is the global role embedded in a token
type GlobalRoleClaim struct {
	RoleID   int64  `json:"role_id"`
	RoleName string `json:"role_name"`
}

// TenantRoleClaim is one hospital role embedded in a token
type TenantRoleClaim struct {
	HospitalID     int64  `json:"hospital_id"`
	HospitalRoleID int64  `json:"hospital_role_id"`
	RoleName       string `json:"role_name"`
}

// PermissionGroup is the snapshot of permissions for one scope
type PermissionGroup struct {
	Scope       rbac.Scope `json:"scope"`
	HospitalID  *int64     `json:"hospital_id,omitempty"`
	Permissions []string   `json:"permissions"`
}

// UserClaims is the user snapshot carried in every token
type UserClaims struct {
	UserID        int64             `json:"user_id"`
	Username      string            `json:"username"`
	Email         string            `json:"email,omitempty"`
	GlobalRole    *GlobalRoleClaim  `json:"global_role"`
	HospitalRoles []TenantRoleClaim `json:"hospital_roles"`
	Permissions   []PermissionGroup `json:"permissions"`
}

// IsSuperAdmin reports whether the snapshot carries the superadmin role
func (c *UserClaims) IsSuperAdmin() bool {
	return c != nil && c.GlobalRole != nil && rbac.IsSuperAdmin(c.GlobalRole.RoleName)
}

// SnapshotPermissions returns the embedded permissions for a context: the
// platform group plus, when hospitalID is set, that hospital's group.
func (c *UserClaims) SnapshotPermissions(hospitalID *int64) rbac.PermissionSet {
	set := rbac.NewPermissionSet()
	if c == nil {
		return set
	}
	for _, g := range c.Permissions {
		switch {
		case g.Scope == rbac.ScopePlatform:
			set.Add(g.Permissions...)
		case hospitalID != nil && g.HospitalID != nil && *g.HospitalID == *hospitalID:
			set.Add(g.Permissions...)
		}
	}
	return set
}

// Clone returns a deep copy
func (c *UserClaims) Clone() *UserClaims {
	if c == nil {
		return nil
	}
	out := *c
	if c.GlobalRole != nil {
		role := *c.GlobalRole
		out.GlobalRole = &role
	}
	out.HospitalRoles = append([]TenantRoleClaim(nil), c.HospitalRoles...)
	out.Permissions = make([]PermissionGroup, len(c.Permissions))
	for i, g := range c.Permissions {
		out.Permissions[i] = PermissionGroup{
			Scope:       g.Scope,
			Permissions: append([]string(nil), g.Permissions...),
		}
		if g.HospitalID != nil {
			id := *g.HospitalID
			out.Permissions[i].HospitalID = &id
		}
	}
	return &out
}

// TokenClaims is the full JWT payload
type TokenClaims struct {
	User    UserClaims `json:"user"`
	Refresh bool       `json:"refresh"`
	jwt.RegisteredClaims
}

// Kind returns the token's kind
func (c *TokenClaims) Kind() TokenKind {
	if c.Refresh {
		return KindRefresh
	}
	return KindAccess
}

// TokenPair is returned by login and refresh
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// AuthContext holds the verified token of the current request
type AuthContext struct {
	Claims    *UserClaims
	TokenID   string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// UserID returns the authenticated user's id
func (ac *AuthContext) UserID() int64 {
	if ac == nil || ac.Claims == nil {
		return 0
	}
	return ac.Claims.UserID
}

// RefreshPolicy decides how claims are rebuilt on refresh
type RefreshPolicy string

const (
	// RefreshReuse copies the claims of the presented refresh token
	RefreshReuse RefreshPolicy = "reuse"
	// RefreshRecompute rebuilds the claims from the store
	RefreshRecompute RefreshPolicy = "recompute"
)

// ParseRefreshPolicy validates a policy name
func ParseRefreshPolicy(s string) (RefreshPolicy, error) {
	switch RefreshPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case RefreshReuse, "":
		return RefreshReuse, nil
	case RefreshRecompute:
		return RefreshRecompute, nil
	default:
		return "", fmt.Errorf("invalid refresh policy %q: must be %s or %s", s, RefreshReuse, RefreshRecompute)
	}
}

// AuditLog represents a security audit log entry
type AuditLog struct {
	UserID       *int64    `json:"user_id,omitempty"`
	HospitalID   *int64    `json:"hospital_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func sortedGroups(platform rbac.PermissionSet, tenants map[int64]rbac.PermissionSet) []PermissionGroup {
	groups := []PermissionGroup{}
	if len(platform) > 0 {
		groups = append(groups, PermissionGroup{Scope: rbac.ScopePlatform, Permissions: platform.Sorted()})
	}

	ids := make([]int64, 0, len(tenants))
	for id, set := range tenants {
		if len(set) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		id := id
		groups = append(groups, PermissionGroup{Scope: rbac.ScopeTenant, HospitalID: &id, Permissions: tenants[id].Sorted()})
	}
	return groups
}
