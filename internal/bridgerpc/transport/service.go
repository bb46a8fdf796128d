package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/arklabs/bridge/internal/bridgerpc"
)

const serviceName = "bridgerpc.Bridge"

// ServiceDesc is the hand-written equivalent of a protoc-gen-go-grpc
// generated _grpc.pb.go's ServiceDesc - see the package doc in codec.go
// for why this is hand-written rather than generated.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*bridgerpc.Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestLiquidPayHtlcCosign", Handler: requestCosignHandler},
		{MethodName: "InitiateLiquidPayment", Handler: initiateHandler},
		{MethodName: "CheckLiquidPayment", Handler: checkHandler},
		{MethodName: "RequestLiquidPayHtlcRevocation", Handler: revokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bridgerpc.proto",
}

func requestCosignHandler(
	srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(bridgerpc.LiquidPayHtlcCosignRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bridgerpc.Server).RequestLiquidPayHtlcCosign(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/RequestLiquidPayHtlcCosign"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(bridgerpc.Server).RequestLiquidPayHtlcCosign(ctx, req.(*bridgerpc.LiquidPayHtlcCosignRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func initiateHandler(
	srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(bridgerpc.InitiateLiquidPaymentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bridgerpc.Server).InitiateLiquidPayment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/InitiateLiquidPayment"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(bridgerpc.Server).InitiateLiquidPayment(ctx, req.(*bridgerpc.InitiateLiquidPaymentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func checkHandler(
	srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(bridgerpc.CheckLiquidPaymentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bridgerpc.Server).CheckLiquidPayment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/CheckLiquidPayment"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(bridgerpc.Server).CheckLiquidPayment(ctx, req.(*bridgerpc.CheckLiquidPaymentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func revokeHandler(
	srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(bridgerpc.RevokeLiquidPayHtlcRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bridgerpc.Server).RequestLiquidPayHtlcRevocation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/RequestLiquidPayHtlcRevocation"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(bridgerpc.Server).RequestLiquidPayHtlcRevocation(ctx, req.(*bridgerpc.RevokeLiquidPayHtlcRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterServer registers a bridgerpc.Server implementation against a
// running *grpc.Server.
func RegisterServer(s *grpc.Server, srv bridgerpc.Server) {
	s.RegisterService(&ServiceDesc, srv)
}
