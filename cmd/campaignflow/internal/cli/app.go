package cli

import (
	"context"
	"fmt"
	"net"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/campaignflow/internal/approval"
	"github.com/example/campaignflow/internal/campaign"
	"github.com/example/campaignflow/internal/checkpoint"
	"github.com/example/campaignflow/internal/codec"
	"github.com/example/campaignflow/internal/config"
	"github.com/example/campaignflow/internal/engine"
	"github.com/example/campaignflow/internal/observability"
	"github.com/example/campaignflow/internal/revision"
	"github.com/example/campaignflow/internal/service"
	"github.com/example/campaignflow/internal/storage"
	"github.com/example/campaignflow/internal/storage/memory"
	"github.com/example/campaignflow/internal/storage/redis"
	"github.com/example/campaignflow/internal/storage/sqlite"
	grpcTransport "github.com/example/campaignflow/internal/transport/grpc"
	"github.com/example/campaignflow/internal/transport/rest"
)

// app holds the components every run-facing command needs.
type app struct {
	metrics     *observability.Metrics
	backend     storage.Backend
	store       *checkpoint.ResilientStore
	gateway     *approval.Gateway
	engine      *engine.Engine
	coordinator *service.Coordinator

	closers []func() error
}

// openBackend opens and migrates the configured storage backend.
func openBackend(ctx context.Context, c *config.Config, l *zap.Logger) (storage.Backend, error) {
	var b storage.Backend
	switch c.Storage.Backend {
	case config.BackendSQLite:
		l.Debug("opening sqlite storage", zap.String("path", c.Storage.SQLitePath))
		s, err := sqlite.New(c.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		b = s
	case config.BackendRedis:
		l.Debug("connecting to redis", zap.String("addr", c.Storage.RedisAddr))
		client := goredis.NewClient(&goredis.Options{Addr: c.Storage.RedisAddr})
		b = redis.New(client, redis.WithLogger(l.Named("redis")), redis.WithPrefix(c.Storage.RedisPrefix))
	case config.BackendMemory:
		b = memory.New()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if err := b.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("storage backend %s unreachable: %w", c.Storage.Backend, err)
	}
	if err := b.Migrate(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return b, nil
}

// openStore builds the checkpoint store. Local mode binds the backend in
// process; remote mode diagnoses the gRPC primary and the HTTP fallback.
func openStore(c *config.Config, l *zap.Logger, m *observability.Metrics, b storage.Backend) (*checkpoint.ResilientStore, []func() error, error) {
	opts := []checkpoint.Option{checkpoint.WithLogger(l.Named("checkpoint")), checkpoint.WithMetrics(m)}

	if c.Checkpoint.Mode == config.ModeLocal {
		return checkpoint.NewDirectStore(checkpoint.NewLocalTransport(b), opts...), nil, nil
	}

	primary, err := grpcTransport.Dial(c.Checkpoint.PrimaryAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gRPC client for %s: %w", c.Checkpoint.PrimaryAddr, err)
	}
	fallback := rest.NewClient(c.Checkpoint.FallbackURL)

	host, _, err := net.SplitHostPort(c.Checkpoint.PrimaryAddr)
	if err != nil {
		host = c.Checkpoint.PrimaryAddr
	}
	diag := checkpoint.NewDiagnostician(primary, fallback, checkpoint.DiagnosticsConfig{
		PrimaryHost:      host,
		SRVService:       c.Checkpoint.SRVService,
		SRVProto:         c.Checkpoint.SRVProto,
		DNSTimeout:       c.Checkpoint.DNSTimeout,
		ProbeTimeout:     c.Checkpoint.ProbeTimeout,
		LatencyThreshold: c.Checkpoint.LatencyThreshold,
		TTL:              c.Checkpoint.DiagnosticsTTL,
	}, checkpoint.WithDiagLogger(l.Named("diagnostics")), checkpoint.WithDiagMetrics(m))

	return checkpoint.NewResilientStore(diag, opts...), []func() error{primary.Close}, nil
}

// newApp wires storage, the checkpoint store, the approval gateway, the
// campaign graph, the engine and the coordinator from cfg.
func newApp(ctx context.Context, observer engine.Observer) (*app, error) {
	a := &app{metrics: observability.NewMetrics()}

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.backend = backend
	a.closers = append(a.closers, backend.Close)

	store, closers, err := openStore(cfg, logger, a.metrics, backend)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closers...)

	a.gateway = approval.New(
		approval.WithRepository(backend.Approvals()),
		approval.WithLogger(logger.Named("approval")),
		approval.WithMetrics(a.metrics),
		approval.WithDefaultTimeout(cfg.Approval.DefaultTimeout),
		approval.WithPollInterval(cfg.Approval.PollInterval),
		approval.WithDevAutoApprove(cfg.Approval.DevAutoApprove),
	)
	if err := a.gateway.Restore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to restore approvals: %w", err)
	}

	cc := campaign.DevConfig()
	cc.QA = campaign.DevQA{Threshold: cfg.Engine.AccessibilityThreshold}
	cc.Revision = revision.New(
		revision.Options{AccessibilityThreshold: cfg.Engine.AccessibilityThreshold},
		revision.WithLogger(logger.Named("revision")),
	)
	cc.ApprovalTimeout = cfg.Approval.DefaultTimeout
	graph, err := campaign.NewGraph(cc)
	if err != nil {
		a.Close()
		return nil, err
	}

	cd, err := codec.Get(cfg.Storage.Codec)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithMetrics(a.metrics),
		engine.WithCodec(cd),
		engine.WithNamespace(cfg.Checkpoint.Namespace),
		engine.WithMaxSteps(cfg.Engine.MaxSteps),
	}
	if observer != nil {
		opts = append(opts, engine.WithObserver(observer))
	}
	a.engine, err = engine.New(graph, store, a.gateway, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.coordinator = service.NewCoordinator(a.engine, a.gateway, store,
		service.WithLogger(logger.Named("coordinator")),
		service.WithMaxRevisions(cfg.Engine.MaxRevisions),
		service.WithPollInterval(cfg.Approval.PollInterval),
	)
	return a, nil
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
