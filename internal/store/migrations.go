package store

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	Version int
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE,
	ip_address TEXT NOT NULL,
	user_agent TEXT NOT NULL,
	browser TEXT NOT NULL DEFAULT '',
	browser_version TEXT NOT NULL DEFAULT '',
	os TEXT NOT NULL DEFAULT '',
	platform TEXT NOT NULL DEFAULT '',
	page_url TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	port INTEGER NOT NULL DEFAULT 0,
	referer TEXT NOT NULL DEFAULT '',
	is_online INTEGER NOT NULL DEFAULT 1,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	UNIQUE(ip_address, user_agent)
);

CREATE TABLE IF NOT EXISTS command_modules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	icon TEXT NOT NULL DEFAULT '',
	code TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS command_modules_category ON command_modules(category);

CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL,
	module_id INTEGER NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('pending','completed')),
	result TEXT,
	executed_at TEXT NOT NULL,
	completed_at TEXT,
	FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE,
	FOREIGN KEY(module_id) REFERENCES command_modules(id)
);

CREATE INDEX IF NOT EXISTS executions_session_status ON executions(session_id, status);

CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER,
	event TEXT NOT NULL,
	level TEXT NOT NULL CHECK(level IN ('info','warning','error')),
	details TEXT NOT NULL DEFAULT '{}',
	timestamp TEXT NOT NULL,
	FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS logs_session ON logs(session_id);
`,
	},
}

// ApplyMigrations brings the schema up to the latest version
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
