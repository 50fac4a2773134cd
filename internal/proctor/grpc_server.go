package proctor

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ProctorServer is implemented by remote persona services written in Go.
type ProctorServer interface {
	RequestTurn(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error)
	RequestAudit(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error)
}

// ProctorServiceDesc describes the persona service for grpc.Server.RegisterService.
var ProctorServiceDesc = grpc.ServiceDesc{
	ServiceName: ProctorServiceName,
	HandlerType: (*ProctorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RequestTurn",
			Handler:    requestTurnHandler,
		},
		{
			MethodName: "RequestAudit",
			Handler:    requestAuditHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "recoveryroom/proctor/v1/proctor.proto",
}

// RegisterProctorServer registers srv on s.
func RegisterProctorServer(s grpc.ServiceRegistrar, srv ProctorServer) {
	s.RegisterService(&ProctorServiceDesc, srv)
}

func requestTurnHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProctorServer).RequestTurn(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: requestTurnMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProctorServer).RequestTurn(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func requestAuditHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProctorServer).RequestAudit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: requestAuditMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProctorServer).RequestAudit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
