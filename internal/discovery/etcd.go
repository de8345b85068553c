// Package discovery keeps the gRPC transport's peer map current by
// registering each node under a leased etcd key and watching the prefix.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Config holds etcd discovery configuration
type Config struct {
	Endpoints   []string
	Prefix      string
	LeaseTTL    time.Duration
	DialTimeout time.Duration
}

// EtcdRegistry registers this node and reports the live node set
type EtcdRegistry struct {
	config  *Config
	client  *clientv3.Client
	logger  *zap.Logger
	leaseID clientv3.LeaseID

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEtcdRegistry connects to etcd
func NewEtcdRegistry(cfg *Config, logger *zap.Logger) (*EtcdRegistry, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "/entitystore/nodes/"
	}
	if !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return NewEtcdRegistryWithClient(cfg, client, logger), nil
}

// NewEtcdRegistryWithClient wraps an existing client
func NewEtcdRegistryWithClient(cfg *Config, client *clientv3.Client, logger *zap.Logger) *EtcdRegistry {
	return &EtcdRegistry{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// Register publishes nodeID -> addr under a lease kept alive until Close
func (r *EtcdRegistry) Register(ctx context.Context, nodeID, addr string) error {
	lease, err := r.client.Grant(ctx, int64(r.config.LeaseTTL/time.Second))
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	if _, err := r.client.Put(ctx, r.config.Prefix+nodeID, addr, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	keepAlive, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to keep lease alive: %w", err)
	}

	r.mu.Lock()
	r.leaseID = lease.ID
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for range keepAlive {
		}
		if kaCtx.Err() == nil {
			r.logger.Warn("Discovery lease lost", zap.String("node_id", nodeID))
		}
	}()

	r.logger.Info("Registered with discovery",
		zap.String("node_id", nodeID),
		zap.String("addr", addr),
		zap.Duration("ttl", r.config.LeaseTTL))
	return nil
}

// Members returns the currently registered nodes
func (r *EtcdRegistry) Members(ctx context.Context) (map[string]string, int64, error) {
	resp, err := r.client.Get(ctx, r.config.Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list nodes: %w", err)
	}
	members := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		members[strings.TrimPrefix(string(kv.Key), r.config.Prefix)] = string(kv.Value)
	}
	return members, resp.Header.Revision, nil
}

// Watch calls onChange with the full node set now and after every change,
// until ctx is done
func (r *EtcdRegistry) Watch(ctx context.Context, onChange func(map[string]string)) error {
	members, rev, err := r.Members(ctx)
	if err != nil {
		return err
	}
	onChange(copyMembers(members))

	watch := r.client.Watch(ctx, r.config.Prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	for resp := range watch {
		if err := resp.Err(); err != nil {
			return fmt.Errorf("discovery watch failed: %w", err)
		}
		for _, ev := range resp.Events {
			id := strings.TrimPrefix(string(ev.Kv.Key), r.config.Prefix)
			switch ev.Type {
			case clientv3.EventTypePut:
				members[id] = string(ev.Kv.Value)
			case clientv3.EventTypeDelete:
				delete(members, id)
			}
		}
		r.logger.Debug("Discovery membership changed", zap.Int("members", len(members)))
		onChange(copyMembers(members))
	}
	return ctx.Err()
}

// Close revokes the lease and disconnects
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	leaseID := r.leaseID
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.wg.Wait()

		ctx, done := context.WithTimeout(context.Background(), r.config.DialTimeout)
		defer done()
		// An expired lease already took the key with it
		if _, err := r.client.Revoke(ctx, leaseID); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
			r.logger.Warn("Failed to revoke discovery lease", zap.Error(err))
		}
	}
	return r.client.Close()
}

func copyMembers(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
