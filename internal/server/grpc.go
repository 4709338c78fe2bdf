package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Deps holds optional dependencies for gRPC services.
type Deps struct {
	// Health serves grpc.health.v1.Health. If nil, the health service is not registered.
	Health healthpb.HealthServer
	// Reflection registers server reflection for grpcurl. Enable only in debug mode.
	Reflection bool
}

// NewGRPCServer returns a gRPC server instrumented with OpenTelemetry stats.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	return grpc.NewServer(opts...)
}

// RegisterServices registers the gRPC services with the given server.
//
//   - grpc.health.v1.Health            → internal/health (Monitor.GRPCServer)
//   - grpc.reflection.v1.ServerReflection → debug only
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
	if deps.Reflection {
		if rs, ok := s.(reflection.GRPCServer); ok {
			reflection.Register(rs)
		}
	}
}
