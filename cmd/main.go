package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/iggydv12/lightswarm/internal/api/grpc/clients"
	"github.com/iggydv12/lightswarm/internal/api/grpc/servers"
	"github.com/iggydv12/lightswarm/internal/api/rest"
	"github.com/iggydv12/lightswarm/internal/collector"
	"github.com/iggydv12/lightswarm/internal/collector/store"
	"github.com/iggydv12/lightswarm/internal/config"
	"github.com/iggydv12/lightswarm/internal/node"
	"github.com/iggydv12/lightswarm/internal/telemetry"
	"github.com/iggydv12/lightswarm/internal/transport"
)

var (
	cfgFile    string
	devLogging bool
	healthAddr string
	masterOnly bool
	blinkFor   time.Duration
	loggerAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "lightswarm",
		Short:        "LightSwarm: brightness-elected light swarm nodes and their log collector",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&devLogging, "dev", false, "Human-readable debug logging")

	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Run a swarm node",
		RunE:  runNode,
	}

	collectorCmd := &cobra.Command{
		Use:   "collector",
		Short: "Run the log collector and its control API",
		RunE:  runCollector,
	}

	sendCmd := &cobra.Command{
		Use:       "send <reset-swarm|reset-me|define-logger|blink|change-test> [address]",
		Short:     "Broadcast one control frame to the swarm",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"reset-swarm", "reset-me", "define-logger", "blink", "change-test"},
		RunE:      runSend,
	}
	sendCmd.Flags().DurationVar(&blinkFor, "for", time.Second, "Blink duration")
	sendCmd.Flags().StringVar(&loggerAddr, "logger", "", "Collector IPv4 address for define-logger (default: this host)")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Query a node's gRPC health service",
		RunE:  runHealth,
	}
	healthCmd.Flags().StringVar(&healthAddr, "addr", "localhost:9090", "Node gRPC address")
	healthCmd.Flags().BoolVar(&masterOnly, "master", false, "Succeed only if the node is currently Master")

	rootCmd.AddCommand(nodeCmd, collectorCmd, sendCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if devLogging {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("logger init: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config load: %w", err)
	}
	return cfg, logger, nil
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	return node.NewController(cfg, logger).Run(cmdContext(cmd))
}

func runCollector(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.SetBuildInfo(node.Version, strconv.Itoa(int(cfg.Node.FirmwareVersion)))

	link, err := transport.Listen(ctx, transport.Config{
		Port:        cfg.Network.Port,
		ListenAddr:  cfg.Collector.Listen,
		Broadcast:   cfg.Network.BroadcastAddress,
		Interface:   cfg.Node.Interface,
		BindRetries: cfg.Network.BindRetries,
	}, logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer link.Close()

	st, err := store.Open(cfg.Collector.DataDir, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var pub collector.Publisher
	if cfg.Collector.NATSURL != "" {
		np, err := collector.NewNATSPublisher(cfg.Collector.NATSURL, cfg.Collector.NATSSubject, logger)
		if err != nil {
			return err
		}
		defer np.Close()
		pub = np
	}

	col, err := collector.New(link, st, pub, collector.Options{
		CacheSize:   cfg.Collector.CacheSize,
		PersistRate: cfg.Collector.PersistRate,
		Version:     cfg.Node.FirmwareVersion,
		Address:     collectorAddress(cfg, logger),
	}, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return col.Run(gctx) })
	if addr := cfg.Collector.REST; addr != "" {
		srv := rest.New(logger)
		srv.RegisterCollector(col)
		g.Go(func() error { return srv.Start(gctx, addr) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Collector stopped")
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	link, err := transport.Listen(cmdContext(cmd), transport.Config{
		Port:       cfg.Network.Port,
		ListenAddr: ":0",
		Broadcast:  cfg.Network.BroadcastAddress,
		Interface:  cfg.Node.Interface,
	}, logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer link.Close()

	col, err := collector.New(link, nil, nil, collector.Options{
		Version: cfg.Node.FirmwareVersion,
		Address: collectorAddress(cfg, logger),
	}, logger)
	if err != nil {
		return err
	}

	target := func() (uint8, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("%s needs a target address", args[0])
		}
		v, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return 0, fmt.Errorf("target address %q: %w", args[1], err)
		}
		return uint8(v), nil
	}

	switch args[0] {
	case "reset-swarm":
		return col.ResetSwarm()
	case "change-test":
		return col.ChangeTest()
	case "define-logger":
		var addr netip.Addr
		if loggerAddr != "" {
			if addr, err = netip.ParseAddr(loggerAddr); err != nil {
				return fmt.Errorf("logger address: %w", err)
			}
		}
		return col.DefineLogger(addr)
	case "reset-me":
		t, err := target()
		if err != nil {
			return err
		}
		return col.Reset(t)
	case "blink":
		t, err := target()
		if err != nil {
			return err
		}
		return col.Blink(t, blinkFor)
	default:
		return fmt.Errorf("unknown control frame %q", args[0])
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	client, err := clients.NewHealthClient(healthAddr, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	service := ""
	if masterOnly {
		service = servers.MasterService
	}
	st, err := client.Check(cmdContext(cmd), service)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), st.String())
	if st != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s is %s", healthAddr, st)
	}
	return nil
}

// collectorAddress is the IPv4 announced by define-logger: the configured
// collector.address, else the node interface address.
func collectorAddress(cfg *config.Config, logger *zap.Logger) netip.Addr {
	if cfg.Collector.Address != "" {
		if addr, err := netip.ParseAddr(cfg.Collector.Address); err == nil {
			return addr
		}
		if ips, err := net.LookupIP(cfg.Collector.Address); err == nil {
			for _, ip := range ips {
				if addr, ok := netip.AddrFromSlice(ip); ok && addr.Unmap().Is4() {
					return addr.Unmap()
				}
			}
		}
		logger.Warn("Unusable collector.address", zap.String("address", cfg.Collector.Address))
	}
	addr, err := transport.InterfaceIPv4(cfg.Node.Interface)
	if err != nil {
		logger.Debug("No interface address for define-logger", zap.Error(err))
		return netip.Addr{}
	}
	return addr
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
