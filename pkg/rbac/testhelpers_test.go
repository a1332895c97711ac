package rbac

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/caregate/pkg/cache"
)

// setupTestDB opens a migrated in-memory sqlite database
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(context.Background(), db, DialectSQLite, nil); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestCache(t *testing.T) *cache.MemoryStore {
	t.Helper()
	store := cache.NewMemoryStore(cache.DefaultConfig())
	t.Cleanup(func() { store.Close() })
	return store
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("Exec %q failed: %v", query, err)
	}
}

func insertGlobalRole(t *testing.T, db *sql.DB, id int64, name string) {
	t.Helper()
	mustExec(t, db, `INSERT INTO roles (id, role_name) VALUES ($1, $2)`, id, name)
}

func insertUser(t *testing.T, db *sql.DB, id int64, username string, globalRoleID *int64) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO users (id, username, email, password_hash, global_role_id, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, id, username, username+"@example.com", "not-a-real-hash", nullableID(globalRoleID))
}

func insertHospital(t *testing.T, db *sql.DB, id int64, name string, active bool) {
	t.Helper()
	mustExec(t, db, `INSERT INTO hospitals (id, name, is_active) VALUES ($1, $2, $3)`, id, name, active)
}

func insertTenantRole(t *testing.T, db *sql.DB, id, hospitalID int64, name string, active bool) {
	t.Helper()
	mustExec(t, db, `INSERT INTO hospital_roles (id, hospital_id, role_name, is_active) VALUES ($1, $2, $3, $4)`,
		id, hospitalID, name, active)
}

// permissionID returns the id of name, creating the permission if needed
func permissionID(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`SELECT id FROM permissions WHERE name = $1`, name).Scan(&id)
	if err == nil {
		return id
	}
	if err != sql.ErrNoRows {
		t.Fatalf("Failed to look up permission %s: %v", name, err)
	}
	if err := db.QueryRow(`INSERT INTO permissions (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		t.Fatalf("Failed to insert permission %s: %v", name, err)
	}
	return id
}

func linkGlobalRole(t *testing.T, db *sql.DB, roleID int64, names ...string) {
	t.Helper()
	for _, name := range names {
		mustExec(t, db, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, permissionID(t, db, name))
	}
}

func linkTenantRole(t *testing.T, db *sql.DB, hospitalRoleID int64, names ...string) {
	t.Helper()
	for _, name := range names {
		mustExec(t, db, `INSERT INTO hospital_role_permissions (hospital_role_id, permission_id) VALUES ($1, $2)`,
			hospitalRoleID, permissionID(t, db, name))
	}
}

func insertAssignment(t *testing.T, db *sql.DB, hospitalID, userID, hospitalRoleID int64, active bool) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO hospital_user_roles (hospital_id, user_id, hospital_role_id, is_active)
		VALUES ($1, $2, $3, $4)
	`, hospitalID, userID, hospitalRoleID, active)
}

func insertGrant(t *testing.T, db *sql.DB, userID int64, name string, scope Scope, hospitalID *int64) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO user_permissions (user_id, permission_name, scope, hospital_id)
		VALUES ($1, $2, $3, $4)
	`, userID, name, string(scope), nullableID(hospitalID))
}

func int64Ptr(v int64) *int64 { return &v }

// seedHospitalFixture builds a small two-hospital world:
//
//	role 1 superadmin, role 2 "doctor" with platform.directory.view
//	hospital 3 "St. Mary", hospital 4 "General"
//	hospital role 10 "doctor" in 3 with doctor.profile.view
//	hospital role 11 "hospital_admin" in 3 with hospital.doctor.create, hospital.doctor.delete
//	hospital role 12 "doctor" in 4 with doctor.profile.view, doctor.schedule.edit
//	hospital role 13 "retired" in 3, inactive, with doctor.records.purge
//	user 7 no global role, doctor in 3
//	user 8 global doctor, hospital_admin in 3, doctor in 4 (inactive)
//	user 9 superadmin
func seedHospitalFixture(t *testing.T, db *sql.DB) {
	t.Helper()

	insertGlobalRole(t, db, 1, "superadmin")
	insertGlobalRole(t, db, 2, "doctor")
	linkGlobalRole(t, db, 2, "platform.directory.view")

	insertHospital(t, db, 3, "St. Mary", true)
	insertHospital(t, db, 4, "General", true)

	insertTenantRole(t, db, 10, 3, "doctor", true)
	insertTenantRole(t, db, 11, 3, "hospital_admin", true)
	insertTenantRole(t, db, 12, 4, "doctor", true)
	insertTenantRole(t, db, 13, 3, "retired", false)
	linkTenantRole(t, db, 10, "doctor.profile.view")
	linkTenantRole(t, db, 11, "hospital.doctor.create", "hospital.doctor.delete")
	linkTenantRole(t, db, 12, "doctor.profile.view", "doctor.schedule.edit")
	linkTenantRole(t, db, 13, "doctor.records.purge")
	permissionID(t, db, "hospital.role.update")
	permissionID(t, db, "billing.invoice.view")

	insertUser(t, db, 7, "dr_seven", nil)
	insertUser(t, db, 8, "dr_eight", int64Ptr(2))
	insertUser(t, db, 9, "root", int64Ptr(1))

	insertAssignment(t, db, 3, 7, 10, true)
	insertAssignment(t, db, 3, 8, 11, true)
	insertAssignment(t, db, 4, 8, 12, false)
}
