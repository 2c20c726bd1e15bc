package checkpoint

import (
	"github.com/example/campaignflow/internal/storage"
)

// Transport names.
const (
	TransportGRPC  = "grpc"
	TransportHTTP  = "http"
	TransportLocal = "local"
)

// Transport is one way of reaching the checkpoint storage. Every transport
// binds the same logical storage, so records written through one are
// readable through another.
type Transport interface {
	storage.CheckpointRepository

	// Name identifies the transport in diagnostics, logs and metrics.
	Name() string
}

// LocalTransport binds a storage repository in process.
type LocalTransport struct {
	storage.CheckpointRepository
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport wraps the checkpoint repository of b.
func NewLocalTransport(b storage.Backend) *LocalTransport {
	return &LocalTransport{CheckpointRepository: b.Checkpoints()}
}

func (*LocalTransport) Name() string { return TransportLocal }
