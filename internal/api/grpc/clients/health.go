// Package clients provides gRPC client wrappers.
package clients

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

const healthDeadline = 2 * time.Second

// HealthClient queries a node's gRPC health service.
type HealthClient struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
	logger *zap.Logger
	target string
}

// NewHealthClient creates a client for target. The connection is established
// lazily on the first call.
func NewHealthClient(target string, logger *zap.Logger) (*HealthClient, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 300 * time.Second}),
	)
	if err != nil {
		return nil, err
	}
	return &HealthClient{
		conn:   conn,
		client: healthpb.NewHealthClient(conn),
		logger: logger,
		target: target,
	}, nil
}

// Close shuts down the client connection.
func (c *HealthClient) Close() error {
	return c.conn.Close()
}

// Check returns the serving status of service; "" is the whole node.
func (c *HealthClient) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, healthDeadline)
	defer cancel()
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		c.logger.Debug("Health check failed", zap.String("target", c.target), zap.Error(err))
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
