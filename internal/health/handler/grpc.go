package handler

import (
	"context"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer serves grpc.health.v1.Health from the same checks as GET /api/health.
// Watch is not supported.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer
	h *Handler
}

// NewGRPCServer returns a gRPC health server backed by h.
func NewGRPCServer(h *Handler) *GRPCServer {
	return &GRPCServer{h: h}
}

// Check reports SERVING when every dependency check passes. The service name is ignored.
func (s *GRPCServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.h.Check(ctx).Status != StatusHealthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	return &healthpb.HealthCheckResponse{Status: status}, nil
}
