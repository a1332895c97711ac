package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/platinummonkey/caregate/pkg/observability"
)

// Dialect selects the SQL variant for the handful of DDL differences
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// serialPK is replaced with the dialect's auto-increment primary key
const serialPK = "{{serial_pk}}"

func (d Dialect) render(sqlText string) string {
	pk := "BIGSERIAL PRIMARY KEY"
	if d == DialectSQLite {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return strings.ReplaceAll(sqlText, serialPK, pk)
}

// Migrations returns the authorization schema migrations in order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles, users and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id ` + serialPK + `,
					role_name VARCHAR(100) NOT NULL UNIQUE
				);

				CREATE TABLE IF NOT EXISTS users (
					id ` + serialPK + `,
					username VARCHAR(150) NOT NULL UNIQUE,
					email VARCHAR(255) NOT NULL UNIQUE,
					password_hash VARCHAR(255) NOT NULL,
					global_role_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id ` + serialPK + `,
					name VARCHAR(150) NOT NULL UNIQUE
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_users_global_role_id ON users(global_role_id);
			`,
		},
		{
			Version:     2,
			Description: "Create hospitals and hospital roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS hospitals (
					id ` + serialPK + `,
					name VARCHAR(255) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE
				);

				CREATE TABLE IF NOT EXISTS hospital_roles (
					id ` + serialPK + `,
					hospital_id BIGINT NOT NULL REFERENCES hospitals(id) ON DELETE CASCADE,
					role_name VARCHAR(100) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					UNIQUE (hospital_id, role_name)
				);

				CREATE TABLE IF NOT EXISTS hospital_role_permissions (
					hospital_role_id BIGINT NOT NULL REFERENCES hospital_roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (hospital_role_id, permission_id)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create hospital user roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS hospital_user_roles (
					id ` + serialPK + `,
					hospital_id BIGINT NOT NULL REFERENCES hospitals(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					hospital_role_id BIGINT NOT NULL REFERENCES hospital_roles(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					UNIQUE (hospital_id, user_id, hospital_role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_hospital_user_roles_user ON hospital_user_roles(user_id, is_active);
				CREATE INDEX IF NOT EXISTS idx_hospital_user_roles_role ON hospital_user_roles(hospital_role_id, is_active);
			`,
		},
		{
			Version:     4,
			Description: "Create user permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					id ` + serialPK + `,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permission_name VARCHAR(150) NOT NULL,
					scope VARCHAR(20) NOT NULL CHECK (scope IN ('platform', 'tenant')),
					hospital_id BIGINT REFERENCES hospitals(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_user_permissions_user ON user_permissions(user_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS caregate_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM caregate_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range Migrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, dialect.render(migration.SQL)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO caregate_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("migration completed")
	}

	return nil
}
