package checkpoint

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/storage"
	"github.com/example/campaignflow/internal/storage/memory"
)

var errUnreachable = errors.New("connection refused")

// fakeTransport wraps an in-memory repository with injectable latency and
// failure.
type fakeTransport struct {
	storage.CheckpointRepository
	name  string
	delay time.Duration
	fail  atomic.Bool
	gets  atomic.Int32
}

func newFakeTransport(name string, backend storage.Backend) *fakeTransport {
	return &fakeTransport{CheckpointRepository: backend.Checkpoints(), name: name}
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.fail.Load() {
		return errUnreachable
	}
	return nil
}

func (f *fakeTransport) Get(ctx context.Context, key domain.CheckpointKey) (*domain.CheckpointRecord, error) {
	f.gets.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.CheckpointRepository.Get(ctx, key)
}

func (f *fakeTransport) Put(ctx context.Context, rec *domain.CheckpointRecord) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	return f.CheckpointRepository.Put(ctx, rec)
}

func (f *fakeTransport) List(ctx context.Context, opts storage.ListOptions) ([]*domain.CheckpointRecord, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.CheckpointRepository.List(ctx, opts)
}

func (f *fakeTransport) AppendWrites(ctx context.Context, entry *domain.WriteLogEntry) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	return f.CheckpointRepository.AppendWrites(ctx, entry)
}

// fakeResolver answers lookups from fixed results.
type fakeResolver struct {
	hostErr error
	srvErr  error
	lookups atomic.Int32
}

func (r *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.lookups.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, &net.DNSError{Err: err.Error(), Name: host}
	}
	if r.hostErr != nil {
		return nil, &net.DNSError{Err: r.hostErr.Error(), Name: host, IsNotFound: true}
	}
	return []string{"10.0.0.7"}, nil
}

func (r *fakeResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if r.srvErr != nil {
		return "", nil, r.srvErr
	}
	return "_" + service + "._" + proto + "." + name, []*net.SRV{{Target: name, Port: 50051}}, nil
}

// pair returns a primary and a fallback transport over one shared store.
func pair() (*fakeTransport, *fakeTransport) {
	backend := memory.New()
	return newFakeTransport(TransportGRPC, backend), newFakeTransport(TransportHTTP, backend)
}

func testConfig() DiagnosticsConfig {
	cfg := DefaultDiagnosticsConfig()
	cfg.PrimaryHost = "checkpoints.internal"
	cfg.SRVService = "campaignflow"
	cfg.LatencyThreshold = 50 * time.Millisecond
	cfg.ProbeTimeout = 500 * time.Millisecond
	return cfg
}
