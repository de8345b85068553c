// Package redispubsub carries peer messages through a Redis server. Every
// node subscribes to a shared broadcast channel and its own inbox channel,
// and advertises itself with a presence key that expires unless refreshed.
package redispubsub

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/opennetworkinglab/onos-sub118/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis transport configuration
type Config struct {
	NodeID            string
	Addr              string
	Password          string
	DB                int
	ChannelPrefix     string
	PresenceTTL       time.Duration
	HeartbeatInterval time.Duration
}

// Transport implements transport.Transport on Redis pub/sub
type Transport struct {
	config *Config
	client *redis.Client
	pubsub *redis.PubSub
	logger *zap.Logger

	mu      sync.RWMutex
	handler transport.Handler
	peers   []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects to Redis, subscribes and starts the presence heartbeat
func New(cfg *Config, logger *zap.Logger) (*Transport, error) {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "entitystore:"
	}
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = 15 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.PresenceTTL / 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t := &Transport{
		config: cfg,
		client: client,
		logger: logger,
	}

	t.pubsub = client.Subscribe(ctx, t.broadcastChannel(), t.inboxChannel(cfg.NodeID))
	if _, err := t.pubsub.Receive(ctx); err != nil {
		_ = t.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	if err := t.heartbeat(ctx); err != nil {
		_ = t.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to register presence: %w", err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	t.cancel = loopCancel
	t.wg.Add(2)
	go t.receiveLoop()
	go t.heartbeatLoop(loopCtx)

	logger.Info("Redis transport connected",
		zap.String("node_id", cfg.NodeID),
		zap.String("addr", cfg.Addr),
		zap.String("prefix", cfg.ChannelPrefix))
	return t, nil
}

func (t *Transport) broadcastChannel() string {
	return t.config.ChannelPrefix + "broadcast"
}

func (t *Transport) inboxChannel(id string) string {
	return t.config.ChannelPrefix + "node:" + id
}

func (t *Transport) presenceKey(id string) string {
	return t.config.ChannelPrefix + "presence:" + id
}

// LocalID implements transport.Transport
func (t *Transport) LocalID() string {
	return t.config.NodeID
}

// Peers implements transport.Transport. The list is refreshed on every
// heartbeat.
func (t *Transport) Peers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.peers...)
}

// Broadcast implements transport.Transport. The sender receives its own
// broadcast back.
func (t *Transport) Broadcast(ctx context.Context, payload []byte) error {
	if err := t.client.Publish(ctx, t.broadcastChannel(), payload).Err(); err != nil {
		return storeerrors.TransportFailure("*", err)
	}
	return nil
}

// Unicast implements transport.Transport
func (t *Transport) Unicast(ctx context.Context, peer string, payload []byte) error {
	n, err := t.client.Publish(ctx, t.inboxChannel(peer), payload).Result()
	if err != nil {
		return storeerrors.TransportFailure(peer, err)
	}
	if n == 0 {
		return storeerrors.TransportFailure(peer, fmt.Errorf("no subscriber"))
	}
	return nil
}

// SetHandler implements transport.Transport
func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Close withdraws presence and disconnects
func (t *Transport) Close() error {
	t.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.client.Del(ctx, t.presenceKey(t.config.NodeID)).Err(); err != nil {
		t.logger.Warn("Failed to withdraw presence", zap.Error(err))
	}

	err := t.pubsub.Close()
	t.wg.Wait()
	if cerr := t.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()
	for msg := range t.pubsub.Channel() {
		t.mu.RLock()
		h := t.handler
		t.mu.RUnlock()
		if h != nil {
			h([]byte(msg.Payload))
		}
	}
}

func (t *Transport) heartbeatLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, t.config.HeartbeatInterval)
			if err := t.heartbeat(hbCtx); err != nil && ctx.Err() == nil {
				t.logger.Warn("Presence heartbeat failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// heartbeat refreshes this node's presence key and re-reads the others
func (t *Transport) heartbeat(ctx context.Context) error {
	if err := t.client.Set(ctx, t.presenceKey(t.config.NodeID), t.config.NodeID, t.config.PresenceTTL).Err(); err != nil {
		return err
	}

	prefix := t.presenceKey("")
	var peers []string
	iter := t.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), prefix)
		if id != t.config.NodeID {
			peers = append(peers, id)
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	sort.Strings(peers)

	t.mu.Lock()
	t.peers = peers
	t.mu.Unlock()
	return nil
}
