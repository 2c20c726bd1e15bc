package grpc

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/endpoint"
)

// Get implements the Get RPC.
func (s *Server) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key := keyFromStruct(req.GetFields()["key"].GetStructValue())

	resp, err := s.endpoints.Get(ctx, &endpoint.GetRequest{Key: key})
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return recordToStruct(resp.(*domain.CheckpointRecord)), nil
}

// Put implements the Put RPC.
func (s *Server) Put(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := recordFromStruct(req)
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}

	if _, err := s.endpoints.Put(ctx, &endpoint.PutRequest{Record: rec}); err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return &structpb.Struct{}, nil
}

// List implements the List RPC.
func (s *Server) List(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	opts, err := listOptionsFromStruct(req)
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}

	resp, err := s.endpoints.List(ctx, &endpoint.ListRequest{Options: opts})
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return recordsToStruct(resp.([]*domain.CheckpointRecord)), nil
}

// AppendWrites implements the AppendWrites RPC.
func (s *Server) AppendWrites(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	entry, err := entryFromStruct(req)
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}

	if _, err := s.endpoints.AppendWrites(ctx, &endpoint.AppendWritesRequest{Entry: entry}); err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return &structpb.Struct{}, nil
}

// ListWrites implements the ListWrites RPC.
func (s *Server) ListWrites(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key := keyFromStruct(req.GetFields()["key"].GetStructValue())

	resp, err := s.endpoints.ListWrites(ctx, &endpoint.ListWritesRequest{Key: key})
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return entriesToStruct(resp.([]*domain.WriteLogEntry)), nil
}

// extractRunID pulls the run id out of a request for logging.
func extractRunID(req any) string {
	s, ok := req.(*structpb.Struct)
	if !ok {
		return ""
	}
	f := s.GetFields()
	if id := f["run_id"].GetStringValue(); id != "" {
		return id
	}
	return f["key"].GetStructValue().GetFields()["run_id"].GetStringValue()
}
