package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	healthhandler "fleet-control-plane/internal/health/handler"
)

// NewGRPCServer returns a gRPC server instrumented with otelgrpc and serving
// grpc.health.v1.Health from health. health may be nil.
func NewGRPCServer(health *healthhandler.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, health)
	return s
}

// RegisterServices registers every gRPC service on s.
func RegisterServices(s grpc.ServiceRegistrar, health *healthhandler.Server) {
	if health != nil {
		health.Register(s)
	}
}
