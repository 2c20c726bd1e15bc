// Package redis implements storage.Backend on Redis. Checkpoint records are
// hashes indexed by a sorted set on update time, write logs are lists, and
// approval requests are hashes partitioned into active and archived sets.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/campaignflow/internal/storage"
)

// Compile-time interface checks.
var (
	_ storage.Backend              = (*Store)(nil)
	_ storage.CheckpointRepository = (*checkpointRepo)(nil)
	_ storage.ApprovalRepository   = (*approvalRepo)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix overrides the key prefix (default "campaignflow").
func WithPrefix(p string) Option {
	return func(s *Store) { s.keys = keys{prefix: p} }
}

// Store implements the Backend interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *zap.Logger
	keys   keys
}

// New creates a Redis-backed store. The caller owns the client lifecycle
// unless Close is called on a *goredis.Client.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: zap.NewNop(), keys: keys{prefix: "campaignflow"}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Checkpoints() storage.CheckpointRepository {
	return &checkpointRepo{client: s.client, keys: s.keys, logger: s.logger}
}

func (s *Store) Approvals() storage.ApprovalRepository {
	return &approvalRepo{client: s.client, keys: s.keys}
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(context.Context) error { return nil }

// Close closes the client when the store was built from one it can close.
func (s *Store) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

type keys struct {
	prefix string
}

func (k keys) checkpoint(flat string) string { return k.prefix + ":cp:" + flat }
func (k keys) checkpointIndex() string       { return k.prefix + ":cp:index" }
func (k keys) writes(flat string) string     { return k.prefix + ":cp:writes:" + flat }
func (k keys) approval(id string) string     { return k.prefix + ":approval:" + id }
func (k keys) approvalsActive() string       { return k.prefix + ":approvals:active" }
func (k keys) approvalsArchived() string     { return k.prefix + ":approvals:archived" }
