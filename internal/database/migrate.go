package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migration is one schema step. Statements run in order inside a single
// transaction; each dialect carries its own DDL.
type migration struct {
	version int
	name    string
	ddl     map[string][]string
}

var migrations = []migration{
	{
		version: 1,
		name:    "applications",
		ddl: map[string][]string{
			DriverPostgres: {
				`CREATE TABLE IF NOT EXISTS applications (
	id BIGSERIAL PRIMARY KEY,
	full_name VARCHAR(200) NOT NULL,
	email VARCHAR(255) NOT NULL DEFAULT '',
	phone VARCHAR(50) NOT NULL DEFAULT '',
	payment_reference VARCHAR(16) UNIQUE,
	status VARCHAR(16) NOT NULL DEFAULT 'REVIEW',
	payment_amount NUMERIC(12,2),
	admin_notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
				`CREATE INDEX IF NOT EXISTS idx_applications_status ON applications (status)`,
			},
			DriverMySQL: {
				`CREATE TABLE IF NOT EXISTS applications (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	full_name VARCHAR(200) NOT NULL,
	email VARCHAR(255) NOT NULL DEFAULT '',
	phone VARCHAR(50) NOT NULL DEFAULT '',
	payment_reference VARCHAR(16) NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'REVIEW',
	payment_amount DECIMAL(12,2) NULL,
	admin_notes TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE KEY uq_applications_payment_reference (payment_reference),
	KEY idx_applications_status (status)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
			},
			DriverSQLite: {
				`CREATE TABLE IF NOT EXISTS applications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	full_name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	payment_reference TEXT UNIQUE,
	status TEXT NOT NULL DEFAULT 'REVIEW',
	payment_amount DECIMAL(12,2),
	admin_notes TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
				`CREATE INDEX IF NOT EXISTS idx_applications_status ON applications (status)`,
			},
		},
	},
	{
		version: 2,
		name:    "settings",
		ddl: map[string][]string{
			DriverPostgres: {
				`CREATE TABLE IF NOT EXISTS settings (
	id SMALLINT PRIMARY KEY,
	required_fee NUMERIC(12,2) NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
				`INSERT INTO settings (id, required_fee) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
			},
			DriverMySQL: {
				`CREATE TABLE IF NOT EXISTS settings (
	id SMALLINT PRIMARY KEY,
	required_fee DECIMAL(12,2) NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
				`INSERT IGNORE INTO settings (id, required_fee) VALUES (1, 0)`,
			},
			DriverSQLite: {
				`CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY,
	required_fee DECIMAL(12,2) NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
				`INSERT OR IGNORE INTO settings (id, required_fee) VALUES (1, 0)`,
			},
		},
	},
}

const schemaVersionDDL = `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`

// LatestVersion is the highest schema version this binary knows about.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// CurrentVersion reads the applied schema version, 0 for a fresh database.
func CurrentVersion(ctx context.Context, db *sqlx.DB) (int, error) {
	if _, err := db.ExecContext(ctx, schemaVersionDDL); err != nil {
		return 0, fmt.Errorf("creating schema_version table: %w", err)
	}
	var current int
	if err := db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return current, nil
}

// Migrate applies every outstanding migration in order and returns how many ran.
func Migrate(ctx context.Context, db *sqlx.DB) (int, error) {
	dialect, err := DriverName(db.DriverName())
	if err != nil {
		return 0, err
	}

	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, dialect, m); err != nil {
			return applied, fmt.Errorf("applying migration v%d (%s): %w", m.version, m.name, err)
		}
		applied++
	}
	return applied, nil
}

func apply(ctx context.Context, db *sqlx.DB, dialect string, m migration) error {
	stmts, ok := m.ddl[dialect]
	if !ok {
		return fmt.Errorf("no DDL for %s", dialect)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
		return err
	}
	return tx.Commit()
}
