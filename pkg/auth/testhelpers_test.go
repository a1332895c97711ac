package auth

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/caregate/pkg/apperrors"
	"github.com/platinummonkey/caregate/pkg/cache"
	"github.com/platinummonkey/caregate/pkg/rbac"
)

var testSecret = []byte("test-secret-key")

func newTestCodec(t *testing.T) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(CodecConfig{Secret: testSecret, Issuer: "caregate-test"})
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	return codec
}

func sampleClaims() *UserClaims {
	hospital := int64(3)
	return &UserClaims{
		UserID:     7,
		Username:   "dr_seven",
		Email:      "dr_seven@example.com",
		GlobalRole: &GlobalRoleClaim{RoleID: 2, RoleName: "doctor"},
		HospitalRoles: []TenantRoleClaim{
			{HospitalID: 3, HospitalRoleID: 10, RoleName: "doctor"},
		},
		Permissions: []PermissionGroup{
			{Scope: rbac.ScopePlatform, Permissions: []string{"platform.directory.view"}},
			{Scope: rbac.ScopeTenant, HospitalID: &hospital, Permissions: []string{"doctor.profile.view"}},
		},
	}
}

// flakyCache wraps a MemoryStore and fails reads or writes on demand
type flakyCache struct {
	*cache.MemoryStore

	mu      sync.Mutex
	failGet bool
	failSet bool
}

func newFlakyCache(t *testing.T) *flakyCache {
	t.Helper()
	store := cache.NewMemoryStore(cache.DefaultConfig())
	t.Cleanup(func() { store.Close() })
	return &flakyCache{MemoryStore: store}
}

func (c *flakyCache) set(failGet, failSet bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failGet, c.failSet = failGet, failSet
}

func (c *flakyCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	fail := c.failGet
	c.mu.Unlock()
	if fail {
		return nil, cache.ErrCacheUnavailable
	}
	return c.MemoryStore.Get(ctx, key)
}

func (c *flakyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	fail := c.failSet
	c.mu.Unlock()
	if fail {
		return cache.ErrCacheUnavailable
	}
	return c.MemoryStore.Set(ctx, key, value, ttl)
}

// setupTestDB opens a migrated in-memory sqlite database
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := rbac.RunMigrations(context.Background(), db, rbac.DialectSQLite, nil); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("Exec %q failed: %v", query, err)
	}
}

func permissionID(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`SELECT id FROM permissions WHERE name = $1`, name).Scan(&id)
	if err == nil {
		return id
	}
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("Failed to look up permission %s: %v", name, err)
	}
	if err := db.QueryRow(`INSERT INTO permissions (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		t.Fatalf("Failed to insert permission %s: %v", name, err)
	}
	return id
}

// seedAuthFixture creates:
//
//	role 2 "doctor" with platform.directory.view
//	hospital 3 with hospital role 10 "doctor" granting doctor.profile.view
//	hospital 4 with no roles
//	user 7 "dr_seven" (password "correct horse"), global doctor, doctor in 3,
//	  direct tenant grant doctor.schedule.edit in 4
//	user 8 "inactive" (password "correct horse"), is_active false
func seedAuthFixture(t *testing.T, db *sql.DB) {
	t.Helper()

	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	mustExec(t, db, `INSERT INTO roles (id, role_name) VALUES (2, 'doctor')`)
	mustExec(t, db, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, 2, permissionID(t, db, "platform.directory.view"))

	mustExec(t, db, `INSERT INTO hospitals (id, name, is_active) VALUES (3, 'St. Mary', TRUE)`)
	mustExec(t, db, `INSERT INTO hospitals (id, name, is_active) VALUES (4, 'General', TRUE)`)
	mustExec(t, db, `INSERT INTO hospital_roles (id, hospital_id, role_name, is_active) VALUES (10, 3, 'doctor', TRUE)`)
	mustExec(t, db, `INSERT INTO hospital_role_permissions (hospital_role_id, permission_id) VALUES ($1, $2)`, 10, permissionID(t, db, "doctor.profile.view"))
	permissionID(t, db, "doctor.schedule.edit")

	mustExec(t, db, `
		INSERT INTO users (id, username, email, password_hash, global_role_id, is_active)
		VALUES (7, 'dr_seven', 'dr_seven@example.com', $1, 2, TRUE)
	`, hash)
	mustExec(t, db, `
		INSERT INTO users (id, username, email, password_hash, global_role_id, is_active)
		VALUES (8, 'inactive', 'inactive@example.com', $1, NULL, FALSE)
	`, hash)

	mustExec(t, db, `INSERT INTO hospital_user_roles (hospital_id, user_id, hospital_role_id, is_active) VALUES (3, 7, 10, TRUE)`)
	mustExec(t, db, `
		INSERT INTO user_permissions (user_id, permission_name, scope, hospital_id)
		VALUES (7, 'doctor.schedule.edit', 'tenant', 4)
	`)
}

func appError(t *testing.T, err error) *apperrors.Error {
	t.Helper()
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("Expected *apperrors.Error, got %T: %v", err, err)
	}
	return appErr
}
