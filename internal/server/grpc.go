package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "github.com/akshithakatte/AgriConnect/internal/health/handler"
)

// NewGRPCServer returns a gRPC server exposing grpc.health.v1.Health, instrumented with otelgrpc
// (spans and metrics go to the global providers).
func NewGRPCServer(health *healthhandler.Handler) *grpc.Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterServices(s, health)
	return s
}

// RegisterServices registers the gRPC services on s.
func RegisterServices(s grpc.ServiceRegistrar, health *healthhandler.Handler) {
	healthpb.RegisterHealthServer(s, healthhandler.NewGRPCServer(health))
}
