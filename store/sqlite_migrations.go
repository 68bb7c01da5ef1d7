package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type migration struct {
	version     int
	description string
	statements  []string
}

// Schema history for databases created by earlier releases. Fresh
// databases get the full schema and are stamped at the latest version.
var sqliteMigrations = []migration{
	{
		version:     2,
		description: "track based_on lineage and is_current flag on documents",
		statements: []string{
			`ALTER TABLE documents ADD COLUMN based_on TEXT`,
			`ALTER TABLE documents ADD COLUMN is_current INTEGER DEFAULT 1`,
		},
	},
	{
		version:     3,
		description: "record section addresses for deep links",
		statements: []string{
			`ALTER TABLE sections ADD COLUMN address TEXT`,
		},
	},
}

func latestMigrationVersion() int {
	v := 1
	for _, m := range sqliteMigrations {
		if m.version > v {
			v = m.version
		}
	}
	return v
}

func runSQLiteMigrations(ctx context.Context, db *sql.DB, freshDB bool) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT,
		applied_at TEXT
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if freshDB && !current.Valid {
		// New database already carries the full schema.
		_, err := db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
			latestMigrationVersion(), "initial schema", time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
		return nil
	}

	have := 1
	if current.Valid {
		have = int(current.Int64)
	}
	for _, m := range sqliteMigrations {
		if m.version <= have {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				// Columns may exist already when an earlier run crashed
				// between the ALTER and the version stamp.
				if strings.Contains(err.Error(), "duplicate column name") {
					continue
				}
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
			m.version, m.description, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("stamp migration %d: %w", m.version, err)
		}
	}
	return nil
}
