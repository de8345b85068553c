// Package grpcpeer carries peer messages as unary gRPC calls. Peers are a
// static id to address map, refreshed from discovery when it is enabled.
package grpcpeer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/opennetworkinglab/onos-sub118/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const deliverMethod = "/entitystore.v1.Peer/Deliver"

// peerServer is the server side of the Peer service
type peerServer interface {
	Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: "entitystore.v1.Peer",
	HandlerType: (*peerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "entitystore/v1/peer.proto",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(peerServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Config holds gRPC transport configuration
type Config struct {
	NodeID         string
	ListenAddr     string
	Peers          map[string]string
	CallTimeout    time.Duration
	MaxConnections int
	MaxMessageSize int
	// BroadcastFanout bounds concurrent calls per broadcast
	BroadcastFanout int
	// KeepaliveTime is the idle time after which a peer connection is pinged
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// Transport implements transport.Transport over gRPC
type Transport struct {
	config   *Config
	server   *grpc.Server
	listener net.Listener
	logger   *zap.Logger

	mu          sync.RWMutex
	peers       map[string]string
	connections map[string]*grpc.ClientConn
	handler     transport.Handler
}

// New starts the peer server and returns the transport
func New(cfg *Config, logger *zap.Logger) (*Transport, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 16 << 20
	}
	if cfg.BroadcastFanout <= 0 {
		cfg.BroadcastFanout = 16
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = 30 * time.Second
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = 10 * time.Second
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}

	t := &Transport{
		config:      cfg,
		listener:    listener,
		logger:      logger,
		peers:       make(map[string]string),
		connections: make(map[string]*grpc.ClientConn),
	}
	t.UpdatePeers(cfg.Peers)

	t.server = grpc.NewServer(
		grpc.MaxConcurrentStreams(uint32(cfg.MaxConnections)),
		grpc.MaxRecvMsgSize(cfg.MaxMessageSize),
		// MinTime must stay below the peers' KeepaliveTime
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             cfg.KeepaliveTime / 2,
			PermitWithoutStream: true,
		}),
	)
	t.server.RegisterService(&peerServiceDesc, t)

	go func() {
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("Peer server stopped", zap.Error(err))
		}
	}()

	logger.Info("Peer transport listening",
		zap.String("node_id", cfg.NodeID),
		zap.String("address", listener.Addr().String()))
	return t, nil
}

// Addr returns the address the peer server listens on
func (t *Transport) Addr() string {
	return t.listener.Addr().String()
}

// LocalID implements transport.Transport
func (t *Transport) LocalID() string {
	return t.config.NodeID
}

// UpdatePeers replaces the peer set. Connections to peers that left or
// moved are closed.
func (t *Transport) UpdatePeers(peers map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]string, len(peers))
	for id, addr := range peers {
		if id != t.config.NodeID && addr != "" {
			next[id] = addr
		}
	}

	live := make(map[string]bool, len(next))
	for _, addr := range next {
		live[addr] = true
	}
	for addr, conn := range t.connections {
		if !live[addr] {
			_ = conn.Close()
			delete(t.connections, addr)
		}
	}
	t.peers = next
}

// Peers implements transport.Transport
func (t *Transport) Peers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast implements transport.Transport
func (t *Transport) Broadcast(ctx context.Context, payload []byte) error {
	var mu sync.Mutex
	var errs []error

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.config.BroadcastFanout)
	for _, peer := range t.Peers() {
		peer := peer
		g.Go(func() error {
			if err := t.Unicast(ctx, peer, payload); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			// one slow peer must not cancel delivery to the rest
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Unicast implements transport.Transport
func (t *Transport) Unicast(ctx context.Context, peer string, payload []byte) error {
	t.mu.RLock()
	addr, ok := t.peers[peer]
	t.mu.RUnlock()
	if !ok {
		return storeerrors.TransportFailure(peer, fmt.Errorf("unknown peer"))
	}

	conn, err := t.getConnection(addr)
	if err != nil {
		return storeerrors.TransportFailure(peer, err)
	}

	// Set timeout
	ctx, cancel := context.WithTimeout(ctx, t.config.CallTimeout)
	defer cancel()

	if err := conn.Invoke(ctx, deliverMethod, wrapperspb.Bytes(payload), new(emptypb.Empty)); err != nil {
		return storeerrors.TransportFailure(peer, err)
	}
	return nil
}

// SetHandler implements transport.Transport
func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Deliver serves an inbound peer message
func (t *Transport) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()
	if h == nil {
		return nil, storeerrors.Unavailable("node is not accepting messages", nil).ToGRPCStatus().Err()
	}
	h(in.GetValue())
	return &emptypb.Empty{}, nil
}

// Close stops the server and drops all connections
func (t *Transport) Close() error {
	stopped := make(chan struct{})
	go func() {
		t.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(t.config.CallTimeout):
		t.server.Stop()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, conn := range t.connections {
		_ = conn.Close()
		delete(t.connections, addr)
	}
	return nil
}

// getConnection returns or creates a gRPC connection
func (t *Transport) getConnection(addr string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	conn, exists := t.connections[addr]
	t.mu.RUnlock()

	if exists {
		return conn, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check
	if conn, exists := t.connections[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(t.config.MaxMessageSize)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                t.config.KeepaliveTime,
			Timeout:             t.config.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	t.connections[addr] = conn
	return conn, nil
}
