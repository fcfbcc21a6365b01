// Package servers provides the node's gRPC listeners.
package servers

import (
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// MasterService reports SERVING while the node holds the master role.
const MasterService = "lightswarm.Master"

// HealthServer serves the standard gRPC health protocol. The empty service
// is SERVING while the node runs.
type HealthServer struct {
	health *health.Server
	logger *zap.Logger
}

// NewHealthServer creates a HealthServer.
func NewHealthServer(logger *zap.Logger) *HealthServer {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(MasterService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{health: h, logger: logger}
}

// SetMaster updates the MasterService status.
func (s *HealthServer) SetMaster(master bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if master {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(MasterService, st)
}

// Shutdown marks every service NOT_SERVING.
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
}

// Serve starts the gRPC listener on addr.
func (s *HealthServer) Serve(addr string) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return s.ServeListener(lis), nil
}

// ServeListener serves on an existing listener.
func (s *HealthServer) ServeListener(lis net.Listener) *grpc.Server {
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 300 * time.Second}),
	)
	healthpb.RegisterHealthServer(srv, s.health)
	go func() {
		if err := srv.Serve(lis); err != nil {
			s.logger.Error("Health gRPC server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("Health gRPC listening", zap.String("addr", lis.Addr().String()))
	return srv
}
