package storage

import (
	"context"
	"time"

	"github.com/example/campaignflow/internal/domain"
)

// Cursor marks a position in a reverse-chronological checkpoint listing.
// Records strictly older than the cursor (by UpdatedAt, then flat key) come
// next.
type Cursor struct {
	UpdatedAt time.Time
	Key       string
}

// Less reports whether a record at (updatedAt, key) sorts after c, i.e.
// belongs to the page following c.
func (c *Cursor) Less(updatedAt time.Time, key string) bool {
	if c == nil {
		return true
	}
	if updatedAt.Equal(c.UpdatedAt) {
		return key < c.Key
	}
	return updatedAt.Before(c.UpdatedAt)
}

// ListOptions provides filtering options for checkpoint listings.
type ListOptions struct {
	// RunID and Namespace filter by key prefix (empty = all).
	RunID     string
	Namespace string

	// Before excludes records updated at or after this time (zero = none).
	Before time.Time

	// After continues a previous page.
	After *Cursor

	Limit int
}

// CheckpointRepository provides access to checkpoint records and their
// write log.
type CheckpointRepository interface {
	// Get retrieves a record by key. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, key domain.CheckpointKey) (*domain.CheckpointRecord, error)

	// Put upserts a record.
	Put(ctx context.Context, rec *domain.CheckpointRecord) error

	// List returns records ordered by UpdatedAt descending.
	List(ctx context.Context, opts ListOptions) ([]*domain.CheckpointRecord, error)

	// AppendWrites adds an entry to the write log.
	AppendWrites(ctx context.Context, entry *domain.WriteLogEntry) error

	// ListWrites returns the write log for a key in append order.
	ListWrites(ctx context.Context, key domain.CheckpointKey) ([]*domain.WriteLogEntry, error)
}

// ApprovalRepository persists approval requests, active and archived.
type ApprovalRepository interface {
	// Save upserts a request. Archived requests are never returned by
	// ListActive.
	Save(ctx context.Context, req *domain.ApprovalRequest, archived bool) error

	// Get retrieves a request by ID. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*domain.ApprovalRequest, error)

	// ListActive returns non-archived requests ordered by RequestedAt.
	ListActive(ctx context.Context) ([]*domain.ApprovalRequest, error)

	// ListArchived returns archived requests ordered by DecidedAt.
	ListArchived(ctx context.Context) ([]*domain.ApprovalRequest, error)
}

// Backend is the logical storage both checkpoint transports bind to.
type Backend interface {
	Checkpoints() CheckpointRepository
	Approvals() ApprovalRepository

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Migrate prepares the schema. A no-op for schemaless backends.
	Migrate(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
