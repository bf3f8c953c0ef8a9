// Package grpc is the out-of-process worker RPC surface: the transport a
// separately-deployed worker pool process would expose §4.2's
// validate_url/get_schema/run_query capabilities over, as distinct from
// internal/orchestrator's in-process call into internal/workerpool.Pool
// (see DESIGN.md's resolution of this split).
//
// The worker service itself (ValidateURL/GetSchema/RunQuery RPCs) is
// defined in worker.proto for codegen with protoc-gen-go-grpc in a normal
// build; the generated stubs are intentionally not hand-authored here
// (see DESIGN.md). What this package provides is the generic server
// scaffolding every ShopMindAI service wires identically: health checking,
// reflection, recovery/logging interceptors, and graceful shutdown --
// grounded on chat-service/cmd/server/main.go's gRPC server setup.
package grpc

import (
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_logrus "github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewServer builds a *grpc.Server with recovery + request logging
// interceptors chained (teacher pattern: chat-service wires grpc-gateway in
// front of a plain grpc.NewServer()), the standard health service
// registered and marked SERVING, and reflection enabled for operability.
func NewServer(logger *logrus.Entry) *grpc.Server {
	entry := logrus.NewEntry(logger.Logger)

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_middleware.ChainUnaryServer(
				grpc_recovery.UnaryServerInterceptor(),
				grpc_logrus.UnaryServerInterceptor(entry),
			),
		),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	return server
}

// GracefulStopTimeout bounds how long shutdown waits for in-flight RPCs
// before cmd/server falls back to a hard stop.
const GracefulStopTimeout = 30 * time.Second
