package service

import (
	"context"
	"errors"
	"time"

	"github.com/opennetworkinglab/onos-sub118/internal/clock"
	"github.com/opennetworkinglab/onos-sub118/internal/metrics"
	"github.com/opennetworkinglab/onos-sub118/internal/store"
	"github.com/opennetworkinglab/onos-sub118/internal/transport"
	"github.com/opennetworkinglab/onos-sub118/internal/util/workerpool"
	"github.com/opennetworkinglab/onos-sub118/internal/wire"
	"go.uber.org/zap"
)

// NodeConfig holds everything needed to assemble one replica
type NodeConfig struct {
	ClockKind   string
	Codec       string
	Store       *store.Config
	AntiEntropy *AntiEntropyConfig

	// Workers is the number of goroutines serving sends and inbound
	// messages. Zero runs both on the calling goroutine.
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Node is one replica: store, clock, messenger and the services on top
type Node struct {
	ID          string
	Clock       clock.Source
	Store       *store.Store
	Messenger   *Messenger
	Entities    *EntityService
	AntiEntropy *AntiEntropyService

	transport transport.Transport
	pool      *workerpool.WorkerPool
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewNode wires a replica onto t
func NewNode(cfg *NodeConfig, t transport.Transport, m *metrics.Metrics, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := t.LocalID()
	logger = logger.With(zap.String("node_id", id))

	src, err := clock.New(cfg.ClockKind, id)
	if err != nil {
		return nil, err
	}
	codec, err := wire.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	var pool *workerpool.WorkerPool
	if cfg.Workers > 0 {
		pool = workerpool.NewWorkerPool(&workerpool.Config{
			Name:       "messenger",
			MaxWorkers: cfg.Workers,
			QueueSize:  cfg.QueueSize,
			Logger:     logger,
		})
	}

	st := store.New(cfg.Store, src, m, logger)
	messenger := NewMessenger(t, codec, pool, cfg.SendTimeout, m, logger)
	entities := NewEntityService(st, src, messenger, logger)
	antiEntropy := NewAntiEntropyService(cfg.AntiEntropy, st, messenger, m, logger)

	messenger.Bind(entities, antiEntropy)
	if syncer, ok := t.(transport.StateSyncer); ok {
		syncer.SetStateExchanger(antiEntropy)
	}
	if notifier, ok := t.(transport.MembershipNotifier); ok {
		notifier.SetMembershipListener(m.SetClusterMembers)
	}

	return &Node{
		ID:          id,
		Clock:       src,
		Store:       st,
		Messenger:   messenger,
		Entities:    entities,
		AntiEntropy: antiEntropy,
		transport:   t,
		pool:        pool,
		metrics:     m,
		logger:      logger,
	}, nil
}

// Start begins background anti-entropy
func (n *Node) Start(ctx context.Context) {
	n.AntiEntropy.Start(ctx)
	n.logger.Info("Node started", zap.Int("peers", len(n.transport.Peers())))
}

// Stop halts background work and closes the transport
func (n *Node) Stop(timeout time.Duration) error {
	n.AntiEntropy.Stop()

	var errs []error
	if n.pool != nil {
		if err := n.pool.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	n.logger.Info("Node stopped")
	return errors.Join(errs...)
}
