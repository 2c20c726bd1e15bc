// Package sqlite implements storage.Backend on SQLite.
package sqlite

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/campaignflow/internal/storage"
)

// Compile-time interface checks.
var (
	_ storage.Backend              = (*SQLiteStorage)(nil)
	_ storage.CheckpointRepository = (*checkpointRepo)(nil)
	_ storage.ApprovalRepository   = (*approvalRepo)(nil)
)

// SQLiteStorage implements the Backend interface using SQLite.
type SQLiteStorage struct {
	db          *sql.DB
	checkpoints *checkpointRepo
	approvals   *approvalRepo
}

// New creates a new SQLite storage instance.
func New(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single connection for writes
	db.SetMaxIdleConns(1)

	return &SQLiteStorage{
		db:          db,
		checkpoints: &checkpointRepo{db: db},
		approvals:   &approvalRepo{db: db},
	}, nil
}

// Checkpoints returns the checkpoint repository.
func (s *SQLiteStorage) Checkpoints() storage.CheckpointRepository {
	return s.checkpoints
}

// Approvals returns the approval repository.
func (s *SQLiteStorage) Approvals() storage.ApprovalRepository {
	return s.approvals
}

// Ping verifies the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}
