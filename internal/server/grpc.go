package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the gRPC health service name of the report service.
const ServiceName = "opreport"

// NewGRPCServer creates a gRPC server with the standard interceptors and
// registers the health service and reflection.
func NewGRPCServer(rs *ReportServer) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(rs.logger),
			LoggingInterceptor(rs.logger),
			AuthInterceptor(rs.auth),
		),
	)

	healthpb.RegisterHealthServer(srv, &healthServer{rs: rs})
	reflection.Register(srv)

	return srv
}

// healthServer reports SERVING once a report has been produced.
type healthServer struct {
	healthpb.UnimplementedHealthServer
	rs *ReportServer
}

func (h *healthServer) Check(_ context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", ServiceName:
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if h.rs.ready() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	return &healthpb.HealthCheckResponse{Status: st}, nil
}
