package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/arklabs/bridge/internal/bridgerpc"
)

// client is the gRPC-backed implementation of bridgerpc.Client, the
// hand-written equivalent of a protoc-gen-go-grpc client stub.
type client struct {
	conn *grpc.ClientConn
}

var _ bridgerpc.Client = (*client)(nil)

// NewClient wraps an established *grpc.ClientConn as a bridgerpc.Client.
func NewClient(conn *grpc.ClientConn) bridgerpc.Client {
	return &client{conn: conn}
}

func (c *client) RequestLiquidPayHtlcCosign(
	ctx context.Context, req *bridgerpc.LiquidPayHtlcCosignRequest,
) (*bridgerpc.LiquidPayHtlcCosignResponse, error) {
	out := new(bridgerpc.LiquidPayHtlcCosignResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/RequestLiquidPayHtlcCosign", req, out)
	return out, err
}

func (c *client) InitiateLiquidPayment(
	ctx context.Context, req *bridgerpc.InitiateLiquidPaymentRequest,
) (*bridgerpc.LiquidPaymentResult, error) {
	out := new(bridgerpc.LiquidPaymentResult)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/InitiateLiquidPayment", req, out)
	return out, err
}

func (c *client) CheckLiquidPayment(
	ctx context.Context, req *bridgerpc.CheckLiquidPaymentRequest,
) (*bridgerpc.LiquidPaymentResult, error) {
	out := new(bridgerpc.LiquidPaymentResult)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/CheckLiquidPayment", req, out)
	return out, err
}

func (c *client) RequestLiquidPayHtlcRevocation(
	ctx context.Context, req *bridgerpc.RevokeLiquidPayHtlcRequest,
) (*bridgerpc.RevokeLiquidPayHtlcResponse, error) {
	out := new(bridgerpc.RevokeLiquidPayHtlcResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/RequestLiquidPayHtlcRevocation", req, out)
	return out, err
}

// Dial establishes a client connection to target using the json codec
// and the standard grpc-ecosystem interceptor chain, returning a ready
// bridgerpc.Client.
func Dial(target string, opts ...grpc.DialOption) (bridgerpc.Client, *grpc.ClientConn, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)

	conn, err := grpc.Dial(target, dialOpts...)
	if err != nil {
		return nil, nil, err
	}

	return NewClient(conn), conn, nil
}
