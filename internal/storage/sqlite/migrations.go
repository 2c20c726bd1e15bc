package sqlite

import (
	"context"
	"database/sql"
)

// Migrate runs all database migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		// Checkpoint records, one row per key
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			namespace TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL DEFAULT '',
			flat_key TEXT NOT NULL,
			state BLOB,
			metadata_json TEXT,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, namespace, checkpoint_id)
		)`,

		// Write log, append-only
		`CREATE TABLE IF NOT EXISTS checkpoint_writes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			namespace TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL,
			writes_json TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		// Approval requests, active and archived
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			approver_role TEXT NOT NULL,
			status INTEGER NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0,
			requested_at INTEGER NOT NULL,
			decided_at INTEGER,
			data_json TEXT NOT NULL
		)`,

		// Indexes for efficient queries
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at DESC, flat_key DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoint_writes_key ON checkpoint_writes(run_id, namespace, checkpoint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_active ON approvals(archived, requested_at)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_run ON approvals(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}
