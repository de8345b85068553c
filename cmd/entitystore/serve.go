package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opennetworkinglab/onos-sub118/internal/config"
	"github.com/opennetworkinglab/onos-sub118/internal/discovery"
	"github.com/opennetworkinglab/onos-sub118/internal/metrics"
	"github.com/opennetworkinglab/onos-sub118/internal/server"
	"github.com/opennetworkinglab/onos-sub118/internal/service"
	"github.com/opennetworkinglab/onos-sub118/internal/store"
	"github.com/opennetworkinglab/onos-sub118/internal/transport"
	"github.com/opennetworkinglab/onos-sub118/internal/transport/gossip"
	"github.com/opennetworkinglab/onos-sub118/internal/transport/grpcpeer"
	"github.com/opennetworkinglab/onos-sub118/internal/transport/redispubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a store node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := initLogger(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (default $CONFIG_PATH)")
	return cmd
}

// serve runs the node until ctx is cancelled, then shuts everything down
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Server.GeneratedNodeID {
		logger.Warn("No node id configured, using a generated one",
			zap.String("node_id", cfg.Server.NodeID))
	}
	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("transport", cfg.Transport.Kind),
		zap.String("clock", cfg.Clock.Kind),
		zap.String("merge_policy", cfg.Store.MergePolicy))

	policy, ok := store.PolicyByName(cfg.Store.MergePolicy)
	if !ok {
		return fmt.Errorf("unknown merge policy %q", cfg.Store.MergePolicy)
	}

	m := metrics.NewMetrics(cfg.Server.NodeID, nil)

	g, ctx := errgroup.WithContext(ctx)

	t, registry, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if registry != nil {
		defer registry.Close()
		peers := t.(*grpcpeer.Transport)
		g.Go(func() error {
			err := registry.Watch(ctx, func(members map[string]string) {
				peers.UpdatePeers(members)
				m.SetClusterMembers(len(members))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	node, err := service.NewNode(&service.NodeConfig{
		ClockKind: cfg.Clock.Kind,
		Codec:     cfg.Messaging.Codec,
		Store: &store.Config{
			Shards:       cfg.Store.Shards,
			Policy:       policy,
			TombstoneTTL: cfg.Store.TombstoneTTL,
		},
		AntiEntropy: &service.AntiEntropyConfig{
			Enabled:      cfg.AntiEntropy.IsEnabled(),
			Interval:     cfg.AntiEntropy.Interval,
			Jitter:       cfg.AntiEntropy.Jitter,
			InitialDelay: cfg.AntiEntropy.InitialDelay,
			RoundTimeout: cfg.AntiEntropy.RoundTimeout,
			RepairRate:   cfg.AntiEntropy.RepairRate,
			RepairBurst:  cfg.AntiEntropy.RepairBurst,
		},
		Workers:     cfg.Messaging.Workers,
		QueueSize:   cfg.Messaging.QueueSize,
		SendTimeout: cfg.Messaging.SendTimeout,
	}, t, m, logger)
	if err != nil {
		_ = t.Close()
		return err
	}
	node.Start(ctx)

	var metricsOut *metrics.Metrics
	if cfg.Metrics.Enabled {
		metricsOut = m
	}
	admin := server.NewServer(&server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.AdminPort,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		MetricsPath:   cfg.Metrics.Path,
		ReadyMinPeers: cfg.Server.ReadyMinPeers,
		RateLimit:     cfg.Server.RateLimit,
		RateBurst:     cfg.Server.RateBurst,
	}, node, metricsOut, logger)

	g.Go(admin.Start)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(
			admin.Shutdown(shutdownCtx),
			node.Stop(cfg.Server.ShutdownTimeout),
		)
	})

	logger.Info("Entity store node started",
		zap.String("node_id", node.ID),
		zap.Int("admin_port", cfg.Server.AdminPort))

	return g.Wait()
}

// newTransport builds the configured transport. With etcd discovery on the
// gRPC transport it also registers this node and returns the registry.
func newTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (transport.Transport, *discovery.EtcdRegistry, error) {
	switch cfg.Transport.Kind {
	case config.TransportGossip:
		t, err := gossip.New(&gossip.Config{
			NodeID:           cfg.Server.NodeID,
			BindAddr:         cfg.Gossip.BindAddr,
			BindPort:         cfg.Gossip.BindPort,
			AdvertiseAddr:    cfg.Gossip.AdvertiseAddr,
			AdvertisePort:    cfg.Gossip.AdvertisePort,
			SeedNodes:        cfg.Gossip.SeedNodes,
			GossipInterval:   cfg.Gossip.GossipInterval,
			ProbeTimeout:     cfg.Gossip.ProbeTimeout,
			ProbeInterval:    cfg.Gossip.ProbeInterval,
			PushPullInterval: cfg.Gossip.PushPullInterval,
			RetransmitMult:   cfg.Gossip.RetransmitMult,
			MaxBroadcastSize: cfg.Gossip.MaxBroadcastSize,
		}, logger)
		return t, nil, err

	case config.TransportGRPC:
		t, err := grpcpeer.New(&grpcpeer.Config{
			NodeID:         cfg.Server.NodeID,
			ListenAddr:     cfg.GRPC.ListenAddr,
			Peers:          cfg.GRPC.Peers,
			CallTimeout:    cfg.GRPC.CallTimeout,
			MaxConnections: cfg.GRPC.MaxConnections,
			MaxMessageSize: cfg.GRPC.MaxMessageSize,
		}, logger)
		if err != nil || !cfg.Discovery.Enabled {
			return t, nil, err
		}

		registry, err := discovery.NewEtcdRegistry(&discovery.Config{
			Endpoints:   cfg.Discovery.Endpoints,
			Prefix:      cfg.Discovery.Prefix,
			LeaseTTL:    cfg.Discovery.LeaseTTL,
			DialTimeout: cfg.Discovery.DialTimeout,
		}, logger)
		if err != nil {
			_ = t.Close()
			return nil, nil, err
		}
		advertise := cfg.GRPC.AdvertiseAddr
		if advertise == "" {
			advertise = t.Addr()
		}
		if err := registry.Register(ctx, cfg.Server.NodeID, advertise); err != nil {
			_ = registry.Close()
			_ = t.Close()
			return nil, nil, err
		}
		return t, registry, nil

	case config.TransportRedis:
		t, err := redispubsub.New(&redispubsub.Config{
			NodeID:            cfg.Server.NodeID,
			Addr:              cfg.Redis.Addr,
			Password:          cfg.Redis.Password,
			DB:                cfg.Redis.DB,
			ChannelPrefix:     cfg.Redis.ChannelPrefix,
			PresenceTTL:       cfg.Redis.PresenceTTL,
			HeartbeatInterval: cfg.Redis.HeartbeatInterval,
		}, logger)
		return t, nil, err
	}
	return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
}
