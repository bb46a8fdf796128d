package transport

import (
	"context"
	"time"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"

	"github.com/arklabs/bridge/internal/blog"
)

var log = blog.Logger(blog.SubsystemBridge)

// NewServer constructs a *grpc.Server wired with the standard
// grpc-ecosystem interceptor chain (request logging + Prometheus RPC
// metrics), both from the teacher's go.mod. The json codec registers
// itself via transport/codec.go's init and needs no server option -
// it's selected per-call by CallContentSubtype on the client side.
func NewServer(extra ...grpc.ServerOption) *grpc.Server {
	grpcprometheus.EnableHandlingTimeHistogram()

	chain := grpcmiddleware.ChainUnaryServer(
		grpcprometheus.UnaryServerInterceptor,
		loggingInterceptor,
	)

	opts := append([]grpc.ServerOption{
		grpc.UnaryInterceptor(chain),
	}, extra...)

	return grpc.NewServer(opts...)
}

func loggingInterceptor(
	ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		log.Errorf("%s failed in %s: %v", info.FullMethod, time.Since(start), err)
	} else {
		log.Debugf("%s completed in %s", info.FullMethod, time.Since(start))
	}
	return resp, err
}
