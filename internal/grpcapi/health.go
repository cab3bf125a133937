package grpcapi

import (
	"errors"
	"io"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SerialService is the health service name that tracks the reader link.
const SerialService = "parkgate.serial"

// HealthServer serves grpc.health.v1. The overall status is SERVING for
// the life of the process; SerialService follows the transport.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func NewHealthServer(logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(SerialService, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &HealthServer{grpc: gs, health: hs, logger: logger}
}

// TransportConnected marks the serial service SERVING.
func (s *HealthServer) TransportConnected(io.Writer) {
	s.health.SetServingStatus(SerialService, healthpb.HealthCheckResponse_SERVING)
}

func (s *HealthServer) TransportDisconnected() {
	s.health.SetServingStatus(SerialService, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Serve blocks until Stop. A clean stop returns nil.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop flips every service to NOT_SERVING so watchers see the shutdown,
// then drains in-flight calls.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
