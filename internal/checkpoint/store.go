// Package checkpoint persists run snapshots and their write logs. The
// ResilientStore reaches storage through a primary transport and falls
// back to an alternate one when a diagnosis finds the primary unreliable.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/observability"
	"github.com/example/campaignflow/internal/storage"
)

// ListFilter narrows a checkpoint listing. Empty fields match everything.
type ListFilter struct {
	RunID     string
	Namespace string
	Before    time.Time
}

// Store is the durable checkpoint store used by the engine.
type Store interface {
	// Get returns the record at key, or nil, nil when none exists.
	Get(ctx context.Context, key domain.CheckpointKey) (*domain.CheckpointRecord, error)

	// Put upserts the record at key.
	Put(ctx context.Context, key domain.CheckpointKey, state []byte, metadata map[string]string) error

	// PutWrites appends a task's writes to the write log of key.
	PutWrites(ctx context.Context, key domain.CheckpointKey, taskID string, writes []domain.ChannelWrite) error

	// List yields matching records newest first, fetching pages lazily.
	// A limit <= 0 yields everything.
	List(ctx context.Context, filter ListFilter, limit int) iter.Seq2[*domain.CheckpointRecord, error]
}

const defaultPageSize = 50

// Option configures a ResilientStore.
type Option func(*ResilientStore)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *ResilientStore) { s.logger = l }
}

// WithMetrics records operation latency on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *ResilientStore) { s.metrics = m }
}

// WithPageSize sets how many records List fetches per round trip.
func WithPageSize(n int) Option {
	return func(s *ResilientStore) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ResilientStore) { s.now = now }
}

// ResilientStore implements Store over the transport picked by a
// Diagnostician, or over one fixed transport.
type ResilientStore struct {
	diag     *Diagnostician
	fixed    Transport
	logger   *zap.Logger
	metrics  *observability.Metrics
	pageSize int
	now      func() time.Time
}

var _ Store = (*ResilientStore)(nil)

// NewResilientStore creates a store that routes every operation through
// the transport selected by diag.
func NewResilientStore(diag *Diagnostician, opts ...Option) *ResilientStore {
	return newStore(diag, nil, opts)
}

// NewDirectStore creates a store bound to a single transport.
func NewDirectStore(t Transport, opts ...Option) *ResilientStore {
	return newStore(nil, t, opts)
}

func newStore(diag *Diagnostician, fixed Transport, opts []Option) *ResilientStore {
	s := &ResilientStore{
		diag:     diag,
		fixed:    fixed,
		logger:   zap.NewNop(),
		pageSize: defaultPageSize,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Diagnostics returns the current decision, running one if needed. Stores
// bound to a single transport return nil.
func (s *ResilientStore) Diagnostics(ctx context.Context, force bool) *Diagnostics {
	if s.diag == nil {
		return nil
	}
	return s.diag.Diagnose(ctx, force)
}

func (s *ResilientStore) transport(ctx context.Context) (Transport, *Diagnostics) {
	if s.fixed != nil {
		return s.fixed, nil
	}
	return s.diag.Select(ctx)
}

// call runs op on the selected transport and shapes its error. Failures are
// returned as-is to the caller; the cached decision stands until it
// expires or a forced diagnosis replaces it.
func (s *ResilientStore) call(ctx context.Context, op string, fn func(Transport) error) error {
	t, diag := s.transport(ctx)
	start := s.now()
	err := fn(t)
	s.metrics.ObserveCheckpointOp(t.Name(), op, ignoreNotFound(err), s.now().Sub(start))

	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	s.logger.Warn("checkpoint operation failed",
		zap.String("op", op),
		zap.String("transport", t.Name()),
		zap.Error(err))
	if diag != nil && diag.Degraded {
		return fmt.Errorf("checkpoint %s via %s: %w: %w", op, t.Name(), domain.ErrTransportUnavailable, err)
	}
	return fmt.Errorf("checkpoint %s via %s: %w", op, t.Name(), err)
}

func (s *ResilientStore) Get(ctx context.Context, key domain.CheckpointKey) (*domain.CheckpointRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var rec *domain.CheckpointRecord
	err := s.call(ctx, "get", func(t Transport) error {
		var err error
		rec, err = t.Get(ctx, key)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *ResilientStore) Put(ctx context.Context, key domain.CheckpointKey, state []byte, metadata map[string]string) error {
	if err := key.Validate(); err != nil {
		return err
	}

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	rec := &domain.CheckpointRecord{
		Key:       key,
		State:     append([]byte(nil), state...),
		Metadata:  meta,
		UpdatedAt: s.now().UTC(),
	}
	return s.call(ctx, "put", func(t Transport) error {
		return t.Put(ctx, rec)
	})
}

func (s *ResilientStore) PutWrites(ctx context.Context, key domain.CheckpointKey, taskID string, writes []domain.ChannelWrite) error {
	if err := key.Validate(); err != nil {
		return err
	}

	entry := &domain.WriteLogEntry{
		Key:       key,
		TaskID:    taskID,
		Writes:    append([]domain.ChannelWrite(nil), writes...),
		CreatedAt: s.now().UTC(),
	}
	return s.call(ctx, "put_writes", func(t Transport) error {
		return t.AppendWrites(ctx, entry)
	})
}

// ListWrites returns the write log for key.
func (s *ResilientStore) ListWrites(ctx context.Context, key domain.CheckpointKey) ([]*domain.WriteLogEntry, error) {
	var out []*domain.WriteLogEntry
	err := s.call(ctx, "list_writes", func(t Transport) error {
		var err error
		out, err = t.ListWrites(ctx, key)
		return err
	})
	return out, err
}

func (s *ResilientStore) List(ctx context.Context, filter ListFilter, limit int) iter.Seq2[*domain.CheckpointRecord, error] {
	return func(yield func(*domain.CheckpointRecord, error) bool) {
		var cursor *storage.Cursor
		remaining := limit

		for {
			size := s.pageSize
			if limit > 0 && remaining < size {
				size = remaining
			}

			var page []*domain.CheckpointRecord
			err := s.call(ctx, "list", func(t Transport) error {
				var err error
				page, err = t.List(ctx, storage.ListOptions{
					RunID:     filter.RunID,
					Namespace: filter.Namespace,
					Before:    filter.Before,
					After:     cursor,
					Limit:     size,
				})
				return err
			})
			if err != nil {
				yield(nil, err)
				return
			}

			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}

			remaining -= len(page)
			if len(page) < size || (limit > 0 && remaining <= 0) {
				return
			}
			last := page[len(page)-1]
			cursor = &storage.Cursor{UpdatedAt: last.UpdatedAt, Key: last.Key.String()}
		}
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
