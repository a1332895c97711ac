package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Scope is where a direct grant applies
type Scope string

const (
	ScopePlatform Scope = "platform" // Everywhere, including every hospital
	ScopeTenant   Scope = "tenant"   // One hospital only
)

// ParseScope validates a scope name
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopePlatform:
		return ScopePlatform, nil
	case ScopeTenant:
		return ScopeTenant, nil
	default:
		return "", fmt.Errorf("invalid scope %q: must be %s or %s", s, ScopePlatform, ScopeTenant)
	}
}

// GlobalRolePolicy decides whether global role permissions apply in hospital context
type GlobalRolePolicy string

const (
	// GlobalRoleEverywhere applies global role permissions in every context
	GlobalRoleEverywhere GlobalRolePolicy = "everywhere"
	// GlobalRolePlatformOnly applies them only in platform context
	GlobalRolePlatformOnly GlobalRolePolicy = "platform_only"
)

// ParseGlobalRolePolicy validates a policy name
func ParseGlobalRolePolicy(s string) (GlobalRolePolicy, error) {
	switch GlobalRolePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case GlobalRoleEverywhere, "":
		return GlobalRoleEverywhere, nil
	case GlobalRolePlatformOnly:
		return GlobalRolePlatformOnly, nil
	default:
		return "", fmt.Errorf("invalid global role policy %q: must be %s or %s", s, GlobalRoleEverywhere, GlobalRolePlatformOnly)
	}
}

// SuperAdminRole is the global role that bypasses permission guards
const SuperAdminRole = "superadmin"

// IsSuperAdmin reports whether a global role name is the superadmin role
func IsSuperAdmin(roleName string) bool {
	return NormalizePermission(roleName) == SuperAdminRole
}

// NormalizePermission trims and lower-cases a permission or role name
func NormalizePermission(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// User is an authenticated principal
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	GlobalRoleID *int64 `json:"global_role_id,omitempty"`
	IsActive     bool   `json:"is_active"`
}

// GlobalRole is a platform-wide role
type GlobalRole struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Hospital is a tenant
type Hospital struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// TenantRole is a role defined inside one hospital
type TenantRole struct {
	ID         int64  `json:"id"`
	HospitalID int64  `json:"hospital_id"`
	Name       string `json:"role_name"`
	IsActive   bool   `json:"is_active"`
}

// TenantAssignment binds a user to a hospital role
type TenantAssignment struct {
	ID             int64  `json:"id"`
	HospitalID     int64  `json:"hospital_id"`
	UserID         int64  `json:"user_id"`
	HospitalRoleID int64  `json:"hospital_role_id"`
	RoleName       string `json:"role_name"`
	IsActive       bool   `json:"is_active"`
}

// DirectGrant is a permission given straight to a user
type DirectGrant struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	Permission string `json:"permission_name"`
	Scope      Scope  `json:"scope"`
	HospitalID *int64 `json:"hospital_id,omitempty"`
}

// AppliesTo reports whether the grant contributes to the given context
func (g DirectGrant) AppliesTo(hospitalID *int64) bool {
	switch g.Scope {
	case ScopePlatform:
		return true
	case ScopeTenant:
		return hospitalID != nil && g.HospitalID != nil && *g.HospitalID == *hospitalID
	default:
		return false
	}
}

// Decision is the outcome of one guard check
type Decision struct {
	Allowed bool     `json:"allowed"`
	Missing []string `json:"missing"`
}

// PermissionSet is a set of normalized permission names
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names, normalizing each and skipping blanks
func NewPermissionSet(names ...string) PermissionSet {
	s := make(PermissionSet, len(names))
	s.Add(names...)
	return s
}

// Add inserts names into the set
func (s PermissionSet) Add(names ...string) {
	for _, name := range names {
		if n := NormalizePermission(name); n != "" {
			s[n] = struct{}{}
		}
	}
}

// Merge adds every member of other
func (s PermissionSet) Merge(other PermissionSet) {
	for name := range other {
		s[name] = struct{}{}
	}
}

// Has reports whether name is in the set
func (s PermissionSet) Has(name string) bool {
	_, ok := s[NormalizePermission(name)]
	return ok
}

// Sorted returns the members in lexical order
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Missing returns the normalized required names absent from the set
func (s PermissionSet) Missing(required []string) []string {
	missing := []string{}
	for _, name := range normalizeRequired(required) {
		if _, ok := s[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Clone returns an independent copy
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	out.Merge(s)
	return out
}

// normalizeRequired normalizes, de-duplicates and sorts required names
func normalizeRequired(required []string) []string {
	return NewPermissionSet(required...).Sorted()
}
