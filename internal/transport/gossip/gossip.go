// Package gossip carries peer messages over hashicorp/memberlist: small
// broadcasts piggyback on the gossip queue, large ones and unicasts use
// memberlist's reliable TCP channel.
package gossip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/opennetworkinglab/onos-sub118/internal/transport"
	"go.uber.org/zap"
)

// Config holds gossip transport configuration
type Config struct {
	NodeID           string
	BindAddr         string
	BindPort         int
	AdvertiseAddr    string
	AdvertisePort    int
	SeedNodes        []string
	GossipInterval   time.Duration
	ProbeTimeout     time.Duration
	ProbeInterval    time.Duration
	PushPullInterval time.Duration
	RetransmitMult   int
	// MaxBroadcastSize is the largest payload queued for gossip; bigger
	// payloads go to each member over the reliable channel.
	MaxBroadcastSize int
}

// nodeMeta is advertised to other members
type nodeMeta struct {
	NodeID    string `json:"node_id"`
	StartedAt int64  `json:"started_at"`
}

// Transport implements transport.Transport on memberlist
type Transport struct {
	config     *Config
	memberlist *memberlist.Memberlist
	queue      *memberlist.TransmitLimitedQueue
	logger     *zap.Logger
	meta       nodeMeta

	mu        sync.RWMutex
	handler   transport.Handler
	exchanger transport.StateExchanger
	listener  transport.MembershipListener
	members   map[string]struct{}
}

// New creates the memberlist and joins the seed nodes
func New(cfg *Config, logger *zap.Logger) (*Transport, error) {
	if cfg.MaxBroadcastSize <= 0 {
		cfg.MaxBroadcastSize = 1024
	}
	if cfg.RetransmitMult <= 0 {
		cfg.RetransmitMult = 4
	}

	t := &Transport{
		config:  cfg,
		logger:  logger,
		meta:    nodeMeta{NodeID: cfg.NodeID, StartedAt: time.Now().Unix()},
		members: map[string]struct{}{cfg.NodeID: {}},
	}

	// Configure memberlist
	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.NodeID
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	if cfg.PushPullInterval > 0 {
		mlConfig.PushPullInterval = cfg.PushPullInterval
	}
	mlConfig.Delegate = t
	mlConfig.Events = &eventDelegate{transport: t}
	mlConfig.Logger = zap.NewStdLog(logger.Named("memberlist"))

	// Create memberlist
	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	t.memberlist = ml
	t.queue = &memberlist.TransmitLimitedQueue{
		NumNodes:       ml.NumMembers,
		RetransmitMult: cfg.RetransmitMult,
	}

	// Join seed nodes
	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Int("joined", n), zap.Error(err))
		}
	}

	return t, nil
}

// LocalID implements transport.Transport
func (t *Transport) LocalID() string {
	return t.config.NodeID
}

// Addr returns the host:port other members reach this node on
func (t *Transport) Addr() string {
	return t.memberlist.LocalNode().Address()
}

// Peers implements transport.Transport
func (t *Transport) Peers() []string {
	members := t.memberlist.Members()
	peers := make([]string, 0, len(members))
	for _, n := range members {
		if n.Name != t.config.NodeID {
			peers = append(peers, n.Name)
		}
	}
	sort.Strings(peers)
	return peers
}

// Broadcast implements transport.Transport
func (t *Transport) Broadcast(ctx context.Context, payload []byte) error {
	if len(payload) <= t.config.MaxBroadcastSize {
		t.queue.QueueBroadcast(&broadcast{msg: payload})
		return nil
	}

	var errs []error
	for _, n := range t.memberlist.Members() {
		if n.Name == t.config.NodeID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return storeerrors.TransportFailure(n.Name, err)
		}
		if err := t.memberlist.SendReliable(n, payload); err != nil {
			errs = append(errs, storeerrors.TransportFailure(n.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Unicast implements transport.Transport
func (t *Transport) Unicast(ctx context.Context, peer string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return storeerrors.TransportFailure(peer, err)
	}
	for _, n := range t.memberlist.Members() {
		if n.Name == peer {
			if err := t.memberlist.SendReliable(n, payload); err != nil {
				return storeerrors.TransportFailure(peer, err)
			}
			return nil
		}
	}
	return storeerrors.TransportFailure(peer, fmt.Errorf("not a member"))
}

// SetHandler implements transport.Transport
func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// SetStateExchanger implements transport.StateSyncer
func (t *Transport) SetStateExchanger(x transport.StateExchanger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exchanger = x
}

// SetMembershipListener implements transport.MembershipNotifier
func (t *Transport) SetMembershipListener(l transport.MembershipListener) {
	t.mu.Lock()
	n := len(t.members)
	t.listener = l
	t.mu.Unlock()
	if l != nil {
		l(n)
	}
}

// Close leaves the cluster and shuts memberlist down
func (t *Transport) Close() error {
	if err := t.memberlist.Leave(time.Second); err != nil {
		t.logger.Warn("Failed to leave cluster gracefully", zap.Error(err))
	}
	return t.memberlist.Shutdown()
}

// NodeMeta implements memberlist.Delegate
func (t *Transport) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(t.meta)
	if len(data) > limit {
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate. memberlist reuses buf after
// the call returns.
func (t *Transport) NotifyMsg(buf []byte) {
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()
	if h == nil || len(buf) == 0 {
		return
	}
	h(append([]byte(nil), buf...))
}

// GetBroadcasts implements memberlist.Delegate
func (t *Transport) GetBroadcasts(overhead, limit int) [][]byte {
	return t.queue.GetBroadcasts(overhead, limit)
}

// LocalState implements memberlist.Delegate
func (t *Transport) LocalState(join bool) []byte {
	t.mu.RLock()
	x := t.exchanger
	t.mu.RUnlock()
	if x == nil {
		return nil
	}
	return x.LocalState(join)
}

// MergeRemoteState implements memberlist.Delegate
func (t *Transport) MergeRemoteState(buf []byte, join bool) {
	t.mu.RLock()
	x := t.exchanger
	t.mu.RUnlock()
	if x == nil || len(buf) == 0 {
		return
	}
	x.MergeRemoteState(append([]byte(nil), buf...), join)
}

// membershipChanged updates the member set. It runs inside memberlist's
// event callbacks, which hold memberlist locks, so it must not call back
// into memberlist.
func (t *Transport) membershipChanged(name string, joined bool) {
	t.mu.Lock()
	if joined {
		t.members[name] = struct{}{}
	} else {
		delete(t.members, name)
	}
	n := len(t.members)
	l := t.listener
	t.mu.Unlock()
	if l != nil {
		l(n)
	}
}

// broadcast is one queued gossip payload
type broadcast struct {
	msg []byte
}

func (b *broadcast) Invalidates(memberlist.Broadcast) bool { return false }
func (b *broadcast) Message() []byte                       { return b.msg }
func (b *broadcast) Finished()                             {}

// eventDelegate handles memberlist events
type eventDelegate struct {
	transport *Transport
}

// NotifyJoin is called when a node joins
func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	d.transport.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Address()))
	d.transport.membershipChanged(node.Name, true)
}

// NotifyLeave is called when a node leaves
func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	d.transport.logger.Info("Node left",
		zap.String("node_id", node.Name))
	d.transport.membershipChanged(node.Name, false)
}

// NotifyUpdate is called when a node is updated
func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.transport.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
}
