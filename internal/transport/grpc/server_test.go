package grpc

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/campaignflow/internal/checkpoint"
	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/endpoint"
	"github.com/example/campaignflow/internal/storage"
	"github.com/example/campaignflow/internal/storage/memory"
)

// startServer serves eps over an in-memory listener and returns a
// connection to it.
func startServer(t *testing.T, eps endpoint.Endpoints, opts ...ServerOption) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(eps, opts...)
	go func() { _ = srv.ServeListener(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
	})
	return conn
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(startServer(t, endpoint.MakeEndpoints(memory.New().Checkpoints())))
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	rec := &domain.CheckpointRecord{
		Key:       domain.CheckpointKey{RunID: "run-1", Namespace: "campaign", CheckpointID: "7"},
		State:     []byte{0x00, 0xff, '{', '}'},
		Metadata:  map[string]string{"codec": "msgpack"},
		UpdatedAt: time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC),
	}
	require.NoError(t, c.Put(ctx, rec))

	got, err := c.Get(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, got.Key)
	assert.Equal(t, rec.State, got.State)
	assert.Equal(t, rec.Metadata, got.Metadata)
	assert.True(t, rec.UpdatedAt.Equal(got.UpdatedAt), "nanoseconds survive the wire")
}

func TestClientNotFoundKeepsSentinel(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Get(context.Background(), domain.HealthKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.Get(context.Background(), domain.CheckpointKey{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestClientListPaging(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	base := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Put(ctx, &domain.CheckpointRecord{
			Key:       domain.CheckpointKey{RunID: id},
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := c.List(ctx, storage.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Key.RunID)

	last := page[1]
	page, err = c.List(ctx, storage.ListOptions{Limit: 2, After: &storage.Cursor{UpdatedAt: last.UpdatedAt, Key: last.Key.String()}})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Key.RunID)
}

func TestClientWrites(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	key := domain.CheckpointKey{RunID: "run-1"}

	require.NoError(t, c.AppendWrites(ctx, &domain.WriteLogEntry{
		Key:       key,
		TaskID:    "1:fetch_metrics",
		Writes:    []domain.ChannelWrite{{Channel: "artifact:PERFORMANCE_SNAPSHOT", Value: json.RawMessage(`{"id":"x"}`)}},
		CreatedAt: time.Now(),
	}))

	entries, err := c.ListWrites(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1:fetch_metrics", entries[0].TaskID)
	assert.JSONEq(t, `{"id":"x"}`, string(entries[0].Writes[0].Value))
}

func TestResilientStoreOverGRPC(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewDirectStore(newTestClient(t))
	key := domain.CheckpointKey{RunID: "run-1", Namespace: "campaign"}

	require.NoError(t, store.Put(ctx, key, []byte("state"), map[string]string{"codec": "json"}))
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), got.State)

	missing, err := store.Get(ctx, domain.CheckpointKey{RunID: "nope"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecoveryInterceptor(t *testing.T) {
	eps := endpoint.MakeEndpoints(memory.New().Checkpoints())
	eps.Get = func(context.Context, any) (any, error) { panic("boom") }
	c := NewClient(startServer(t, eps))

	_, err := c.Get(context.Background(), domain.CheckpointKey{RunID: "x"})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestRateLimitInterceptor(t *testing.T) {
	conn := startServer(t, endpoint.MakeEndpoints(memory.New().Checkpoints()), WithRateLimit(0.001, 1))
	c := NewClient(conn)

	_, err := c.Get(context.Background(), domain.HealthKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.Get(context.Background(), domain.HealthKey)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestHealthService(t *testing.T) {
	conn := startServer(t, endpoint.MakeEndpoints(memory.New().Checkpoints()))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
