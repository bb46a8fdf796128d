package bridgerpc

import "context"

// Server is the RPC surface the server bridge (C4) implements. Named and
// shaped after the teacher's lnrpc.LightningServer split between a
// service interface and its gRPC transport binding.
type Server interface {
	RequestLiquidPayHtlcCosign(ctx context.Context, req *LiquidPayHtlcCosignRequest) (*LiquidPayHtlcCosignResponse, error)
	InitiateLiquidPayment(ctx context.Context, req *InitiateLiquidPaymentRequest) (*LiquidPaymentResult, error)
	CheckLiquidPayment(ctx context.Context, req *CheckLiquidPaymentRequest) (*LiquidPaymentResult, error)
	RequestLiquidPayHtlcRevocation(ctx context.Context, req *RevokeLiquidPayHtlcRequest) (*RevokeLiquidPayHtlcResponse, error)
}

// Client is the RPC surface the client payment engine (C3) consumes.
// Identical method set to Server; kept as a separate interface so
// transport bindings (in-process, gRPC) can implement just the client
// side without pulling in server-side types.
type Client interface {
	RequestLiquidPayHtlcCosign(ctx context.Context, req *LiquidPayHtlcCosignRequest) (*LiquidPayHtlcCosignResponse, error)
	InitiateLiquidPayment(ctx context.Context, req *InitiateLiquidPaymentRequest) (*LiquidPaymentResult, error)
	CheckLiquidPayment(ctx context.Context, req *CheckLiquidPaymentRequest) (*LiquidPaymentResult, error)
	RequestLiquidPayHtlcRevocation(ctx context.Context, req *RevokeLiquidPayHtlcRequest) (*RevokeLiquidPayHtlcResponse, error)
}
