package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/campaignflow/internal/checkpoint"
	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/endpoint"
	"github.com/example/campaignflow/internal/storage"
)

// Client implements checkpoint.Transport over a gRPC connection.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

var _ checkpoint.Transport = (*Client)(nil)

// Dial creates a client for target. Connections are established lazily,
// so an unreachable target surfaces on the first call.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Name() string { return checkpoint.TransportGRPC }

// Close releases the connection if the client created it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, endpoint.FromStatus(err)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, key domain.CheckpointKey) (*domain.CheckpointRecord, error) {
	out, err := c.invoke(ctx, MethodGet, keyMessage(key))
	if err != nil {
		return nil, err
	}
	return recordFromStruct(out)
}

func (c *Client) Put(ctx context.Context, rec *domain.CheckpointRecord) error {
	_, err := c.invoke(ctx, MethodPut, recordToStruct(rec))
	return err
}

func (c *Client) List(ctx context.Context, opts storage.ListOptions) ([]*domain.CheckpointRecord, error) {
	out, err := c.invoke(ctx, MethodList, listOptionsToStruct(opts))
	if err != nil {
		return nil, err
	}
	return recordsFromStruct(out)
}

func (c *Client) AppendWrites(ctx context.Context, entry *domain.WriteLogEntry) error {
	_, err := c.invoke(ctx, MethodAppendWrites, entryToStruct(entry))
	return err
}

func (c *Client) ListWrites(ctx context.Context, key domain.CheckpointKey) ([]*domain.WriteLogEntry, error) {
	out, err := c.invoke(ctx, MethodListWrites, keyMessage(key))
	if err != nil {
		return nil, err
	}
	return entriesFromStruct(out)
}
