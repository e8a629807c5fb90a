// Package grpcapi exposes the capture loop's liveness over the standard gRPC
// health protocol.
package grpcapi

import (
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/service"
)

// ServiceName is the health service name that tracks the capture loop.
const ServiceName = "lidmon.capture"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *log.Logger
}

func NewServer(logger *log.Logger) *Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(logger),
			loggingInterceptor(logger),
		),
	)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &Server{grpc: srv, health: hs, logger: logger}
}

// ServingStatus maps a capture state onto a health status. The loop is
// serving only while it is waiting for or draining events.
func ServingStatus(st service.State) healthpb.HealthCheckResponse_ServingStatus {
	switch st {
	case service.StateWaiting, service.StateDraining:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// ObserveState is meant for CaptureLoop.OnState.
func (s *Server) ObserveState(st service.State) {
	s.health.SetServingStatus(ServiceName, ServingStatus(st))
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
