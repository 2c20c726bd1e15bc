// Package endpoint adapts the checkpoint repository into transport-neutral
// endpoints shared by the gRPC and HTTP bindings, and maps errors to and
// from their wire forms.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/storage"
)

// Endpoint is a function that takes a request and returns a response.
type Endpoint func(ctx context.Context, request any) (response any, err error)

// Endpoints holds all checkpoint service handlers.
type Endpoints struct {
	Get          Endpoint
	Put          Endpoint
	List         Endpoint
	AppendWrites Endpoint
	ListWrites   Endpoint
}

// GetRequest reads one record.
type GetRequest struct {
	Key domain.CheckpointKey
}

// PutRequest upserts one record.
type PutRequest struct {
	Record *domain.CheckpointRecord
}

// ListRequest reads one page of records.
type ListRequest struct {
	Options storage.ListOptions
}

// AppendWritesRequest appends to a write log.
type AppendWritesRequest struct {
	Entry *domain.WriteLogEntry
}

// ListWritesRequest reads a write log.
type ListWritesRequest struct {
	Key domain.CheckpointKey
}

// MaxPageSize caps ListRequest.Options.Limit.
const MaxPageSize = 500

// MakeEndpoints creates all endpoints from the repository.
func MakeEndpoints(repo storage.CheckpointRepository) Endpoints {
	return Endpoints{
		Get:          makeGetEndpoint(repo),
		Put:          makePutEndpoint(repo),
		List:         makeListEndpoint(repo),
		AppendWrites: makeAppendWritesEndpoint(repo),
		ListWrites:   makeListWritesEndpoint(repo),
	}
}

func makeGetEndpoint(repo storage.CheckpointRepository) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*GetRequest)
		if err := validateKey(req.Key); err != nil {
			return nil, err
		}
		return repo.Get(ctx, req.Key)
	}
}

func makePutEndpoint(repo storage.CheckpointRepository) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*PutRequest)
		if err := validatePutRequest(req); err != nil {
			return nil, err
		}
		return nil, repo.Put(ctx, req.Record)
	}
}

func makeListEndpoint(repo storage.CheckpointRepository) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*ListRequest)
		if err := validateListRequest(req); err != nil {
			return nil, err
		}
		return repo.List(ctx, req.Options)
	}
}

func makeAppendWritesEndpoint(repo storage.CheckpointRepository) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*AppendWritesRequest)
		if err := validateAppendWritesRequest(req); err != nil {
			return nil, err
		}
		return nil, repo.AppendWrites(ctx, req.Entry)
	}
}

func makeListWritesEndpoint(repo storage.CheckpointRepository) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*ListWritesRequest)
		if err := validateKey(req.Key); err != nil {
			return nil, err
		}
		return repo.ListWrites(ctx, req.Key)
	}
}

// MapErrorToStatus maps domain errors to gRPC status codes.
func MapErrorToStatus(err error) error {
	if err == nil {
		return nil
	}

	// Already a gRPC status error
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrTransportUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// FromStatus maps a gRPC status error received by a client back onto the
// domain sentinels, so errors.Is keeps working across the wire.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", domain.ErrInvalidState, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	default:
		return err
	}
}

// HTTPStatus maps domain errors to HTTP status codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return http.StatusTooManyRequests
		case codes.InvalidArgument:
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// FromHTTP maps an HTTP error response back onto the domain sentinels.
func FromHTTP(code int, message string) error {
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrInvalidState, message)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, message)
	default:
		return fmt.Errorf("http %d: %s", code, message)
	}
}
