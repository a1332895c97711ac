package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/cache"
	"github.com/platinummonkey/caregate/pkg/middleware"
	"github.com/platinummonkey/caregate/pkg/observability"
	"github.com/platinummonkey/caregate/pkg/rbac"
)

const testPassword = "correct horse"

// testEnv is a fully wired server on sqlite and an in-memory cache
type testEnv struct {
	db       *sql.DB
	cache    *cache.MemoryStore
	sessions *auth.Service
	server   *Server
	registry *prometheus.Registry
}

type envOption func(*ServerConfig)

func withLimiter(cfg middleware.RateLimitConfig) envOption {
	return func(c *ServerConfig) { c.LoginLimiter = middleware.NewRateLimiter(cfg) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, rbac.RunMigrations(context.Background(), db, rbac.DialectSQLite, nil))
	seedFixture(t, db)

	store := cache.NewMemoryStore(cache.DefaultConfig())
	t.Cleanup(func() { store.Close() })

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	logger := observability.NewNopLogger()

	rbacStore := rbac.NewStore(db)
	resolver := rbac.NewResolver(rbacStore, store, rbac.WithMetrics(metrics))
	checker := rbac.NewPermissionChecker(resolver, store, rbac.WithMetrics(metrics))
	admin := rbac.NewAdmin(rbacStore, rbac.NewInvalidator(rbacStore, store))

	codec, err := auth.NewTokenCodec(auth.CodecConfig{Secret: []byte("api-test-secret"), Issuer: "caregate-test"})
	require.NoError(t, err)
	revocations := auth.NewLocalRevocationRegistry(auth.DefaultRevocationTTL, logger, metrics)
	verifier := auth.NewTokenVerifier(codec, revocations, logger, auth.WithVerifierMetrics(metrics))
	sessions, err := auth.NewService(auth.ServiceConfig{
		Users:    rbacStore,
		Claims:   auth.NewClaimsBuilder(rbacStore, logger, metrics),
		Codec:    codec,
		Verifier: verifier,
		Revoker:  revocations,
		Logger:   logger,
		Metrics:  metrics,
	})
	require.NoError(t, err)

	cfg := ServerConfig{
		Sessions:      sessions,
		Authenticator: verifier,
		Resolver:      resolver,
		Checker:       checker,
		Admin:         admin,
		LoginLimiter:  middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerMinute: 600, BurstSize: 100}),
		Health:        observability.NewHealthChecker(db, store, "test"),
		Metrics:       metrics,
		Gatherer:      registry,
		Logger:        logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	server, err := NewServer(cfg)
	require.NoError(t, err)

	return &testEnv{db: db, cache: store, sessions: sessions, server: server, registry: registry}
}

// seedFixture creates:
//
//	role 1 "superadmin", role 2 "doctor" with platform.directory.view
//	hospital 3 with role 10 "admin" (doctor create/delete, role update)
//	  and role 11 "doctor" (doctor.profile.view)
//	hospital 4 with role 12 "doctor"
//	user 1 "root" superadmin
//	user 5 "head" global doctor, admin in hospital 3
//	user 6 "newdoc" global doctor, no hospital
//	user 7 "nurse" no global role, no hospital
func seedFixture(t *testing.T, db *sql.DB) {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)

	exec := func(query string, args ...interface{}) {
		t.Helper()
		_, err := db.Exec(query, args...)
		require.NoError(t, err, query)
	}

	for id, name := range map[int64]string{
		100: "platform.directory.view",
		101: PermDoctorCreate,
		102: PermDoctorDelete,
		103: PermRoleUpdate,
		104: "doctor.profile.view",
		105: "doctor.schedule.edit",
	} {
		exec(`INSERT INTO permissions (id, name) VALUES ($1, $2)`, id, name)
	}

	exec(`INSERT INTO roles (id, role_name) VALUES (1, 'superadmin'), (2, 'doctor')`)
	exec(`INSERT INTO role_permissions (role_id, permission_id) VALUES (2, 100)`)

	exec(`INSERT INTO hospitals (id, name, is_active) VALUES (3, 'St. Mary', TRUE), (4, 'General', TRUE)`)
	exec(`INSERT INTO hospital_roles (id, hospital_id, role_name, is_active) VALUES
		(10, 3, 'admin', TRUE), (11, 3, 'doctor', TRUE), (12, 4, 'doctor', TRUE)`)
	exec(`INSERT INTO hospital_role_permissions (hospital_role_id, permission_id) VALUES
		(10, 101), (10, 102), (10, 103), (11, 104), (12, 104)`)

	users := []struct {
		id   int64
		name string
		role interface{}
	}{
		{1, "root", int64(1)},
		{5, "head", int64(2)},
		{6, "newdoc", int64(2)},
		{7, "nurse", nil},
	}
	for _, u := range users {
		exec(`INSERT INTO users (id, username, email, password_hash, global_role_id, is_active)
			VALUES ($1, $2, $3, $4, $5, TRUE)`, u.id, u.name, u.name+"@example.com", hash, u.role)
	}

	exec(`INSERT INTO hospital_user_roles (hospital_id, user_id, hospital_role_id, is_active) VALUES (3, 5, 10, TRUE)`)
}

// loginAs issues a token pair through the session service
func (e *testEnv) loginAs(t *testing.T, username string) *auth.TokenPair {
	t.Helper()
	pair, err := e.sessions.Login(context.Background(), username+"@example.com", testPassword)
	require.NoError(t, err)
	return pair
}

// do sends a request through the full handler chain
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:4000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	return body.Error
}

func newRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.1:4000"
	return req
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}
