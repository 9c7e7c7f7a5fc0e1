// Package memd serves an engine's connection over gRPC and provides the
// matching "remote" connection backend.
package memd

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "memengine.v1.MemoryService"

// Full method names, used by the client and the rate limiter.
const (
	MethodPing       = "/" + ServiceName + "/Ping"
	MethodGetStatus  = "/" + ServiceName + "/GetStatus"
	MethodReadMemory = "/" + ServiceName + "/ReadMemory"
	MethodWrite      = "/" + ServiceName + "/WriteMemory"
	MethodModuleBase = "/" + ServiceName + "/ModuleBase"
	MethodSetFrozen  = "/" + ServiceName + "/SetFrozen"
	MethodIsFrozen   = "/" + ServiceName + "/IsFrozen"
)

// MemoryServiceServer is the server API. Messages are protobuf well-known
// types:
//
//	ReadMemory   {address, length}        -> BytesValue
//	WriteMemory  {address, data(base64)}  -> Empty
//	GetStatus    Empty                    -> Struct
type MemoryServiceServer interface {
	Ping(context.Context, *emptypb.Empty) (*timestamppb.Timestamp, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ReadMemory(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	WriteMemory(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ModuleBase(context.Context, *wrapperspb.StringValue) (*wrapperspb.UInt32Value, error)
	SetFrozen(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	IsFrozen(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
}

// RegisterMemoryServiceServer registers srv on s.
func RegisterMemoryServiceServer(s grpc.ServiceRegistrar, srv MemoryServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MemoryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: unary(MethodPing, MemoryServiceServer.Ping)},
		{MethodName: "GetStatus", Handler: unary(MethodGetStatus, MemoryServiceServer.GetStatus)},
		{MethodName: "ReadMemory", Handler: unary(MethodReadMemory, MemoryServiceServer.ReadMemory)},
		{MethodName: "WriteMemory", Handler: unary(MethodWrite, MemoryServiceServer.WriteMemory)},
		{MethodName: "ModuleBase", Handler: unary(MethodModuleBase, MemoryServiceServer.ModuleBase)},
		{MethodName: "SetFrozen", Handler: unary(MethodSetFrozen, MemoryServiceServer.SetFrozen)},
		{MethodName: "IsFrozen", Handler: unary(MethodIsFrozen, MemoryServiceServer.IsFrozen)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "memengine/v1/memory.proto",
}

// unary adapts a typed server method to a grpc.MethodDesc handler.
func unary[Req any, Resp proto.Message, PReq interface {
	*Req
	proto.Message
}](fullMethod string, call func(MemoryServiceServer, context.Context, PReq) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MemoryServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MemoryServiceServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}
