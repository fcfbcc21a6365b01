// Package node runs the per-cycle swarm protocol of one LightSwarm node and
// bootstraps the transport, devices and status surfaces around it.
package node

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iggydv12/lightswarm/internal/api/grpc/servers"
	"github.com/iggydv12/lightswarm/internal/api/rest"
	"github.com/iggydv12/lightswarm/internal/config"
	"github.com/iggydv12/lightswarm/internal/device"
	"github.com/iggydv12/lightswarm/internal/status"
	"github.com/iggydv12/lightswarm/internal/telemetry"
	"github.com/iggydv12/lightswarm/internal/transport"
)

// Version is the build version, set with -ldflags.
var Version = "dev"

// Controller bootstraps the node, wires all components, and runs until shutdown.
type Controller struct {
	cfg        *config.Config
	logger     *zap.Logger
	instanceID string
	board      *status.Board
	health     *servers.HealthServer
}

// NewController creates a Controller.
func NewController(cfg *config.Config, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:        cfg,
		logger:     logger,
		instanceID: uuid.NewString(),
		board:      status.NewBoard(),
		health:     servers.NewHealthServer(logger),
	}
}

// Board returns the status published after every cycle.
func (c *Controller) Board() *status.Board { return c.board }

// Run bootstraps all components and blocks until SIGINT/SIGTERM or ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.logger.Info("Starting LightSwarm node",
		zap.String("instanceID", c.instanceID),
		zap.String("version", Version),
	)

	// --- 1. Transport ---
	tr, err := transport.Listen(ctx, transport.Config{
		Port:        c.cfg.Network.Port,
		Broadcast:   c.cfg.Network.BroadcastAddress,
		Interface:   c.cfg.Node.Interface,
		BindRetries: c.cfg.Network.BindRetries,
		PollWindow:  c.cfg.Schedule.PollWindow,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer tr.Close()

	// --- 2. Identity ---
	address, err := c.resolveAddress()
	if err != nil {
		return err
	}

	// --- 3. Devices ---
	sensor, err := NewSensor(c.cfg.Sensor, address)
	if err != nil {
		return err
	}
	indicator, err := NewIndicator(c.cfg.Indicator, c.logger)
	if err != nil {
		return err
	}

	fw := c.cfg.Node.FirmwareVersion
	telemetry.SetBuildInfo(Version, strconv.Itoa(int(fw)))
	coord := NewCoordinator(address, fw, tr, sensor, indicator, NewMonotonicClock(), c.logger)
	c.logger.Info("Node running",
		zap.Uint8("address", address),
		zap.Uint8("firmwareVersion", fw),
		zap.Duration("cycle", c.cfg.Schedule.Cycle),
	)

	// --- 4. Cycle loop and status surfaces ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.loop(gctx, coord) })

	if addr := c.cfg.API.REST; addr != "" {
		srv := rest.New(c.logger)
		srv.RegisterNode(c.board)
		g.Go(func() error { return srv.Start(gctx, addr) })
	}
	if addr := c.cfg.API.GRPC; addr != "" {
		grpcSrv, err := c.health.Serve(addr)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("health gRPC serve: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			c.health.Shutdown()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	err = g.Wait()
	c.logger.Info("Node stopped", zap.Uint8("address", address))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Controller) loop(ctx context.Context, coord *Coordinator) error {
	ticker := time.NewTicker(c.cfg.Schedule.Cycle)
	defer ticker.Stop()
	for {
		action := coord.Cycle()
		c.publish(coord)

		if action.Kind == ActionBlink {
			if err := pause(ctx, action.Duration); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) publish(coord *Coordinator) {
	st := coord.Status(c.instanceID)
	c.board.Publish(st)
	c.health.SetMaster(st.Master)
}

// pause blocks for d, returning early with ctx's error if it is cancelled.
func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Controller) resolveAddress() (uint8, error) {
	if c.cfg.Node.Address != 0 {
		return c.cfg.Node.Address, nil
	}
	ip, err := transport.InterfaceIPv4(c.cfg.Node.Interface)
	if err != nil {
		return 0, fmt.Errorf("derive swarm address: %w", err)
	}
	address := transport.SwarmAddress(ip)
	if address == 0 {
		return 0, fmt.Errorf("derive swarm address: %s ends in 0, set node.address", ip)
	}
	return address, nil
}

// NewSensor builds the configured brightness source. A simulated sensor
// without a seed is seeded by the node address so nodes diverge.
func NewSensor(cfg config.SensorConfig, address uint8) (Sensor, error) {
	switch cfg.Kind {
	case "file":
		if cfg.Path == "" {
			return nil, errors.New("sensor.path is required for a file sensor")
		}
		return device.NewFileSensor(cfg.Path), nil
	case "simulated", "":
		seed := cfg.Seed
		if seed == 0 {
			seed = int64(address)
		}
		return device.NewSimulatedSensor(seed), nil
	default:
		return nil, fmt.Errorf("unknown sensor kind %q", cfg.Kind)
	}
}

// NewIndicator builds the configured light output.
func NewIndicator(cfg config.IndicatorConfig, logger *zap.Logger) (Indicator, error) {
	switch cfg.Kind {
	case "file":
		if cfg.Path == "" {
			return nil, errors.New("indicator.path is required for a file indicator")
		}
		return device.NewFileIndicator(cfg.Path), nil
	case "log", "":
		return device.NewLogIndicator(logger), nil
	default:
		return nil, fmt.Errorf("unknown indicator kind %q", cfg.Kind)
	}
}
