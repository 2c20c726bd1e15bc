package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "campaignflow.checkpoint.v1.CheckpointService"

// Method names of the checkpoint service.
const (
	MethodGet          = "Get"
	MethodPut          = "Put"
	MethodList         = "List"
	MethodAppendWrites = "AppendWrites"
	MethodListWrites   = "ListWrites"
)

// CheckpointServiceServer is the server API for the checkpoint service.
// Messages are google.protobuf.Struct values; see wire.go for their shape.
type CheckpointServiceServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Put(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AppendWrites(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListWrites(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterCheckpointServiceServer registers srv on s.
func RegisterCheckpointServiceServer(s grpc.ServiceRegistrar, srv CheckpointServiceServer) {
	s.RegisterService(&checkpointServiceDesc, srv)
}

type unaryMethod func(CheckpointServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CheckpointServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CheckpointServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

var checkpointServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CheckpointServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodGet, Handler: unaryHandler(MethodGet, CheckpointServiceServer.Get)},
		{MethodName: MethodPut, Handler: unaryHandler(MethodPut, CheckpointServiceServer.Put)},
		{MethodName: MethodList, Handler: unaryHandler(MethodList, CheckpointServiceServer.List)},
		{MethodName: MethodAppendWrites, Handler: unaryHandler(MethodAppendWrites, CheckpointServiceServer.AppendWrites)},
		{MethodName: MethodListWrites, Handler: unaryHandler(MethodListWrites, CheckpointServiceServer.ListWrites)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "campaignflow/checkpoint/v1/checkpoint.proto",
}
