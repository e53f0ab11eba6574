package db

import (
	"context"
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS message_journal (
	entry_id TEXT PRIMARY KEY,
	surface_id TEXT NOT NULL,
	message_type TEXT NOT NULL,
	seq INTEGER,
	payload TEXT,
	outcome TEXT NOT NULL CHECK(outcome IN ('applied','side_channel','rejected')),
	applied_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS message_journal_surface_applied_at
ON message_journal(surface_id, applied_at DESC);

CREATE INDEX IF NOT EXISTS message_journal_applied_at
ON message_journal(applied_at);

CREATE TABLE IF NOT EXISTS surface_cursors (
	surface_id TEXT PRIMARY KEY,
	last_seq INTEGER NOT NULL CHECK(last_seq >= 0),
	updated_at TEXT NOT NULL
);
`,
		DownSQL: `
DROP TABLE IF EXISTS surface_cursors;
DROP TABLE IF EXISTS message_journal;
`,
	},
	{
		Version: 2,
		UpSQL: `
CREATE TABLE IF NOT EXISTS widgets (
	widget_id TEXT NOT NULL,
	version TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY(widget_id, version)
);

CREATE TABLE IF NOT EXISTS widget_instances (
	instance_id TEXT PRIMARY KEY,
	widget_id TEXT NOT NULL,
	version_constraint TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS widget_instances_widget_id
ON widget_instances(widget_id);
`,
		DownSQL: `
DROP TABLE IF EXISTS widget_instances;
DROP TABLE IF EXISTS widgets;
`,
	},
}

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
		if err != nil && err != sql.ErrNoRows {
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

func RollbackAll(ctx context.Context, db *sql.DB) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rollback tx %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("rollback migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("unrecord migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit rollback %d: %w", m.Version, err)
		}
	}
	return nil
}
