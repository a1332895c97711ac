package rbac

import (
	"context"
	"database/sql"
	"errors"

	"github.com/platinummonkey/caregate/pkg/apperrors"
)

// PermissionSource is the read side the Resolver depends on
type PermissionSource interface {
	GetUser(ctx context.Context, userID int64) (*User, error)
	GetGlobalRolePermissions(ctx context.Context, roleID int64) ([]string, error)
	// GetActiveAssignments returns assignments that are active and whose
	// hospital role is active, optionally restricted to one hospital.
	GetActiveAssignments(ctx context.Context, userID int64, hospitalID *int64) ([]TenantAssignment, error)
	GetTenantRolePermissions(ctx context.Context, hospitalRoleID int64) ([]string, error)
	GetDirectGrants(ctx context.Context, userID int64) ([]DirectGrant, error)
}

// MembershipSource enumerates the users an invalidation must reach
type MembershipSource interface {
	GetActiveMemberIDs(ctx context.Context, hospitalRoleID, hospitalID int64) ([]int64, error)
	GetUserIDsWithGlobalRole(ctx context.Context, roleID int64) ([]int64, error)
}

// Store handles authorization data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new store over db
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, username, email, password_hash, global_role_id, is_active`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var user User
	var globalRoleID sql.NullInt64
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &globalRoleID, &user.IsActive); err != nil {
		return nil, err
	}
	if globalRoleID.Valid {
		id := globalRoleID.Int64
		user.GlobalRoleID = &id
	}
	return &user, nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.UserNotFound(userID)
	}
	if err != nil {
		return nil, apperrors.Database("select", "users", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email address
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.UserNotFound(0).WithContext("email", email)
	}
	if err != nil {
		return nil, apperrors.Database("select", "users", err)
	}
	return user, nil
}

// CreateUser inserts a user and sets its ID
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, global_role_id, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, user.Username, user.Email, user.PasswordHash, nullableID(user.GlobalRoleID), user.IsActive).Scan(&user.ID)
	if err != nil {
		return apperrors.Database("insert", "users", err)
	}
	return nil
}

// GetGlobalRole retrieves a global role by ID
func (s *Store) GetGlobalRole(ctx context.Context, roleID int64) (*GlobalRole, error) {
	var role GlobalRole
	err := s.db.QueryRowContext(ctx, `SELECT id, role_name FROM roles WHERE id = $1`, roleID).Scan(&role.ID, &role.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Role", roleID)
	}
	if err != nil {
		return nil, apperrors.Database("select", "roles", err)
	}
	return &role, nil
}

// GetGlobalRolePermissions returns the permission names linked to a global role
func (s *Store) GetGlobalRolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	return s.queryStrings(ctx, "role_permissions", `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`, roleID)
}

// GetHospital retrieves a hospital by ID
func (s *Store) GetHospital(ctx context.Context, hospitalID int64) (*Hospital, error) {
	var h Hospital
	err := s.db.QueryRowContext(ctx, `SELECT id, name, is_active FROM hospitals WHERE id = $1`, hospitalID).
		Scan(&h.ID, &h.Name, &h.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Hospital", hospitalID)
	}
	if err != nil {
		return nil, apperrors.Database("select", "hospitals", err)
	}
	return &h, nil
}

// GetTenantRole retrieves a hospital role by ID
func (s *Store) GetTenantRole(ctx context.Context, hospitalRoleID int64) (*TenantRole, error) {
	var r TenantRole
	err := s.db.QueryRowContext(ctx, `SELECT id, hospital_id, role_name, is_active FROM hospital_roles WHERE id = $1`, hospitalRoleID).
		Scan(&r.ID, &r.HospitalID, &r.Name, &r.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Hospital role", hospitalRoleID)
	}
	if err != nil {
		return nil, apperrors.Database("select", "hospital_roles", err)
	}
	return &r, nil
}

// GetActiveAssignments returns the user's effective hospital role assignments
func (s *Store) GetActiveAssignments(ctx context.Context, userID int64, hospitalID *int64) ([]TenantAssignment, error) {
	query := `
		SELECT hur.id, hur.hospital_id, hur.user_id, hur.hospital_role_id, hr.role_name, hur.is_active
		FROM hospital_user_roles hur
		JOIN hospital_roles hr ON hr.id = hur.hospital_role_id AND hr.hospital_id = hur.hospital_id
		WHERE hur.user_id = $1 AND hur.is_active = TRUE AND hr.is_active = TRUE`
	args := []interface{}{userID}
	if hospitalID != nil {
		query += ` AND hur.hospital_id = $2`
		args = append(args, *hospitalID)
	}
	query += ` ORDER BY hur.hospital_id, hur.hospital_role_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Database("select", "hospital_user_roles", err)
	}
	defer rows.Close()

	var assignments []TenantAssignment
	for rows.Next() {
		var a TenantAssignment
		if err := rows.Scan(&a.ID, &a.HospitalID, &a.UserID, &a.HospitalRoleID, &a.RoleName, &a.IsActive); err != nil {
			return nil, apperrors.Database("scan", "hospital_user_roles", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("select", "hospital_user_roles", err)
	}
	return assignments, nil
}

// GetTenantRolePermissions returns the permission names linked to a hospital role
func (s *Store) GetTenantRolePermissions(ctx context.Context, hospitalRoleID int64) ([]string, error) {
	return s.queryStrings(ctx, "hospital_role_permissions", `
		SELECT p.name
		FROM hospital_role_permissions hrp
		JOIN permissions p ON p.id = hrp.permission_id
		WHERE hrp.hospital_role_id = $1
		ORDER BY p.name
	`, hospitalRoleID)
}

// GetDirectGrants returns every direct grant held by the user
func (s *Store) GetDirectGrants(ctx context.Context, userID int64) ([]DirectGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, permission_name, scope, hospital_id
		FROM user_permissions
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, apperrors.Database("select", "user_permissions", err)
	}
	defer rows.Close()

	var grants []DirectGrant
	for rows.Next() {
		var g DirectGrant
		var scope string
		var hospitalID sql.NullInt64
		if err := rows.Scan(&g.ID, &g.UserID, &g.Permission, &scope, &hospitalID); err != nil {
			return nil, apperrors.Database("scan", "user_permissions", err)
		}
		g.Scope = Scope(scope)
		if hospitalID.Valid {
			id := hospitalID.Int64
			g.HospitalID = &id
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("select", "user_permissions", err)
	}
	return grants, nil
}

// GetActiveMemberIDs returns the users holding an active assignment to a hospital role
func (s *Store) GetActiveMemberIDs(ctx context.Context, hospitalRoleID, hospitalID int64) ([]int64, error) {
	return s.queryIDs(ctx, "hospital_user_roles", `
		SELECT DISTINCT user_id
		FROM hospital_user_roles
		WHERE hospital_role_id = $1 AND hospital_id = $2 AND is_active = TRUE
		ORDER BY user_id
	`, hospitalRoleID, hospitalID)
}

// GetUserIDsWithGlobalRole returns the users holding a global role
func (s *Store) GetUserIDsWithGlobalRole(ctx context.Context, roleID int64) ([]int64, error) {
	return s.queryIDs(ctx, "users", `SELECT id FROM users WHERE global_role_id = $1 ORDER BY id`, roleID)
}

// PermissionExists reports whether name is a known permission
func (s *Store) PermissionExists(ctx context.Context, name string) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM permissions WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Database("select", "permissions", err)
	}
	return true, nil
}

// UpsertAssignment activates the user's assignment to a hospital role,
// creating it when it does not exist yet.
func (s *Store) UpsertAssignment(ctx context.Context, hospitalID, userID, hospitalRoleID int64) (*TenantAssignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Database("begin", "hospital_user_roles", err)
	}
	defer tx.Rollback()

	a := &TenantAssignment{HospitalID: hospitalID, UserID: userID, HospitalRoleID: hospitalRoleID, IsActive: true}
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM hospital_user_roles
		WHERE hospital_id = $1 AND user_id = $2 AND hospital_role_id = $3
	`, hospitalID, userID, hospitalRoleID).Scan(&a.ID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx, `
			INSERT INTO hospital_user_roles (hospital_id, user_id, hospital_role_id, is_active)
			VALUES ($1, $2, $3, TRUE)
			RETURNING id
		`, hospitalID, userID, hospitalRoleID).Scan(&a.ID)
		if err != nil {
			return nil, apperrors.Database("insert", "hospital_user_roles", err)
		}
	case err != nil:
		return nil, apperrors.Database("select", "hospital_user_roles", err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE hospital_user_roles SET is_active = TRUE WHERE id = $1`, a.ID); err != nil {
			return nil, apperrors.Database("update", "hospital_user_roles", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Database("commit", "hospital_user_roles", err)
	}
	return a, nil
}

// DeactivateAssignments deactivates every active assignment of the user in
// the hospital and returns how many changed.
func (s *Store) DeactivateAssignments(ctx context.Context, hospitalID, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE hospital_user_roles SET is_active = FALSE
		WHERE hospital_id = $1 AND user_id = $2 AND is_active = TRUE
	`, hospitalID, userID)
	if err != nil {
		return 0, apperrors.Database("update", "hospital_user_roles", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Database("update", "hospital_user_roles", err)
	}
	return n, nil
}

// InsertDirectGrant stores a grant unless an identical one exists. The
// grant's ID is set either way.
func (s *Store) InsertDirectGrant(ctx context.Context, grant *DirectGrant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Database("begin", "user_permissions", err)
	}
	defer tx.Rollback()

	var row *sql.Row
	if grant.HospitalID == nil {
		row = tx.QueryRowContext(ctx, `
			SELECT id FROM user_permissions
			WHERE user_id = $1 AND permission_name = $2 AND scope = $3 AND hospital_id IS NULL
		`, grant.UserID, grant.Permission, string(grant.Scope))
	} else {
		row = tx.QueryRowContext(ctx, `
			SELECT id FROM user_permissions
			WHERE user_id = $1 AND permission_name = $2 AND scope = $3 AND hospital_id = $4
		`, grant.UserID, grant.Permission, string(grant.Scope), *grant.HospitalID)
	}

	err = row.Scan(&grant.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return apperrors.Database("select", "user_permissions", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_permissions (user_id, permission_name, scope, hospital_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, grant.UserID, grant.Permission, string(grant.Scope), nullableID(grant.HospitalID)).Scan(&grant.ID)
	if err != nil {
		return apperrors.Database("insert", "user_permissions", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Database("commit", "user_permissions", err)
	}
	return nil
}

// DeleteDirectGrant removes a grant and returns how many rows were removed
func (s *Store) DeleteDirectGrant(ctx context.Context, userID int64, permission string, scope Scope, hospitalID *int64) (int64, error) {
	var res sql.Result
	var err error
	if hospitalID == nil {
		res, err = s.db.ExecContext(ctx, `
			DELETE FROM user_permissions
			WHERE user_id = $1 AND permission_name = $2 AND scope = $3 AND hospital_id IS NULL
		`, userID, permission, string(scope))
	} else {
		res, err = s.db.ExecContext(ctx, `
			DELETE FROM user_permissions
			WHERE user_id = $1 AND permission_name = $2 AND scope = $3 AND hospital_id = $4
		`, userID, permission, string(scope), *hospitalID)
	}
	if err != nil {
		return 0, apperrors.Database("delete", "user_permissions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Database("delete", "user_permissions", err)
	}
	return n, nil
}

// ReplaceTenantRolePermissions sets the hospital role's permissions to exactly names
func (s *Store) ReplaceTenantRolePermissions(ctx context.Context, hospitalRoleID int64, names []string) error {
	return s.replaceLinks(ctx, "hospital_role_permissions", "hospital_role_id", hospitalRoleID, names)
}

// ReplaceGlobalRolePermissions sets the global role's permissions to exactly names
func (s *Store) ReplaceGlobalRolePermissions(ctx context.Context, roleID int64, names []string) error {
	return s.replaceLinks(ctx, "role_permissions", "role_id", roleID, names)
}

// replaceLinks swaps a role's permission links in one transaction. table and
// column are fixed identifiers from this file, never caller input.
func (s *Store) replaceLinks(ctx context.Context, table, column string, roleID int64, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Database("begin", table, err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(names))
	for _, name := range names {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM permissions WHERE name = $1`, name).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.Validation("unknown permission: "+name, "permissions", name)
		}
		if err != nil {
			return apperrors.Database("select", "permissions", err)
		}
		ids = append(ids, id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+column+` = $1`, roleID); err != nil {
		return apperrors.Database("delete", table, err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+` (`+column+`, permission_id) VALUES ($1, $2)`, roleID, id,
		); err != nil {
			return apperrors.Database("insert", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Database("commit", table, err)
	}
	return nil
}

func (s *Store) queryStrings(ctx context.Context, table, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Database("select", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, apperrors.Database("scan", table, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("select", table, err)
	}
	return out, nil
}

func (s *Store) queryIDs(ctx context.Context, table, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Database("select", table, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, apperrors.Database("scan", table, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("select", table, err)
	}
	return out, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
