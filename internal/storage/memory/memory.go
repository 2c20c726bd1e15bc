// Package memory implements storage.Backend in process memory. It is used
// by tests and by single-process development setups.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/storage"
)

// Compile-time interface checks.
var (
	_ storage.Backend              = (*Store)(nil)
	_ storage.CheckpointRepository = (*checkpointRepo)(nil)
	_ storage.ApprovalRepository   = (*approvalRepo)(nil)
)

// Store is an in-memory Backend. Records are copied on the way in and out.
type Store struct {
	checkpoints *checkpointRepo
	approvals   *approvalRepo
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		checkpoints: &checkpointRepo{
			records: make(map[domain.CheckpointKey]*domain.CheckpointRecord),
			writes:  make(map[domain.CheckpointKey][]*domain.WriteLogEntry),
		},
		approvals: &approvalRepo{
			items: make(map[string]*approvalItem),
		},
	}
}

func (s *Store) Checkpoints() storage.CheckpointRepository { return s.checkpoints }
func (s *Store) Approvals() storage.ApprovalRepository     { return s.approvals }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Migrate is a no-op.
func (s *Store) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

type checkpointRepo struct {
	mu      sync.RWMutex
	records map[domain.CheckpointKey]*domain.CheckpointRecord
	writes  map[domain.CheckpointKey][]*domain.WriteLogEntry
}

func (r *checkpointRepo) Get(_ context.Context, key domain.CheckpointKey) (*domain.CheckpointRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (r *checkpointRepo) Put(_ context.Context, rec *domain.CheckpointRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[rec.Key] = copyRecord(rec)
	return nil
}

func (r *checkpointRepo) List(_ context.Context, opts storage.ListOptions) ([]*domain.CheckpointRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.CheckpointRecord
	for key, rec := range r.records {
		if opts.RunID != "" && key.RunID != opts.RunID {
			continue
		}
		if opts.Namespace != "" && key.Namespace != opts.Namespace {
			continue
		}
		if !opts.Before.IsZero() && !rec.UpdatedAt.Before(opts.Before) {
			continue
		}
		if !opts.After.Less(rec.UpdatedAt, key.String()) {
			continue
		}
		out = append(out, copyRecord(rec))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key.String() > out[j].Key.String()
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (r *checkpointRepo) AppendWrites(_ context.Context, entry *domain.WriteLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := *entry
	e.Writes = append([]domain.ChannelWrite(nil), entry.Writes...)
	r.writes[entry.Key] = append(r.writes[entry.Key], &e)
	return nil
}

func (r *checkpointRepo) ListWrites(_ context.Context, key domain.CheckpointKey) ([]*domain.WriteLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.writes[key]
	out := make([]*domain.WriteLogEntry, len(entries))
	for i, e := range entries {
		c := *e
		c.Writes = append([]domain.ChannelWrite(nil), e.Writes...)
		out[i] = &c
	}
	return out, nil
}

func copyRecord(rec *domain.CheckpointRecord) *domain.CheckpointRecord {
	c := *rec
	if rec.State != nil {
		c.State = append([]byte(nil), rec.State...)
	}
	if rec.Metadata != nil {
		c.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

type approvalItem struct {
	req      *domain.ApprovalRequest
	archived bool
}

type approvalRepo struct {
	mu    sync.RWMutex
	items map[string]*approvalItem
}

func (r *approvalRepo) Save(_ context.Context, req *domain.ApprovalRequest, archived bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[req.ID] = &approvalItem{req: req.Clone(), archived: archived}
	return nil
}

func (r *approvalRepo) Get(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return item.req.Clone(), nil
}

func (r *approvalRepo) ListActive(_ context.Context) ([]*domain.ApprovalRequest, error) {
	out := r.filter(false)
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

func (r *approvalRepo) ListArchived(_ context.Context) ([]*domain.ApprovalRequest, error) {
	out := r.filter(true)
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].DecidedAt, out[j].DecidedAt
		if di == nil || dj == nil || di.Equal(*dj) {
			return out[i].ID < out[j].ID
		}
		return di.Before(*dj)
	})
	return out, nil
}

func (r *approvalRepo) filter(archived bool) []*domain.ApprovalRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ApprovalRequest
	for _, item := range r.items {
		if item.archived == archived {
			out = append(out, item.req.Clone())
		}
	}
	return out
}
