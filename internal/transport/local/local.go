// Package local is an in-process transport. Every node joined to the same
// Network can reach the others; the network can drop, duplicate and
// partition traffic to exercise recovery paths.
package local

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/opennetworkinglab/onos-sub118/internal/transport"
)

// Network connects local transports.
type Network struct {
	mu          sync.Mutex
	nodes       map[string]*Transport
	cut         map[[2]string]bool
	dropRate    float64
	dupRate     float64
	rnd         *rand.Rand
	delivered   int
	dropped     int
	interceptor func(from, to string, payload []byte) bool
}

// NewNetwork creates an empty network. seed drives loss and duplication.
func NewNetwork(seed int64) *Network {
	return &Network{
		nodes: make(map[string]*Transport),
		cut:   make(map[[2]string]bool),
		rnd:   rand.New(rand.NewSource(seed)),
	}
}

// Join attaches a new node.
func (n *Network) Join(id string) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &Transport{id: id, net: n}
	n.nodes[id] = t
	return t
}

// SetLoss sets the probability that a delivery is dropped and the
// probability that a delivered message arrives twice.
func (n *Network) SetLoss(drop, duplicate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropRate = drop
	n.dupRate = duplicate
}

// Partition cuts traffic between a and b in both directions.
func (n *Network) Partition(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[[2]string{a, b}] = true
	n.cut[[2]string{b, a}] = true
}

// Heal removes every partition.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut = make(map[[2]string]bool)
}

// Intercept installs a hook that sees every delivery; returning false
// drops it.
func (n *Network) Intercept(f func(from, to string, payload []byte) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interceptor = f
}

// Stats returns delivered and dropped counts.
func (n *Network) Stats() (delivered, dropped int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered, n.dropped
}

// route decides how many copies of a payload reach to. It returns the
// target's handler, or nil when the target is gone.
func (n *Network) route(from, to string, payload []byte) (transport.Handler, int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	target, ok := n.nodes[to]
	if !ok || target.closed {
		return nil, 0, storeerrors.TransportFailure(to, fmt.Errorf("unknown peer"))
	}
	if n.cut[[2]string{from, to}] {
		n.dropped++
		return nil, 0, nil
	}
	if n.interceptor != nil && !n.interceptor(from, to, payload) {
		n.dropped++
		return nil, 0, nil
	}
	if n.dropRate > 0 && n.rnd.Float64() < n.dropRate {
		n.dropped++
		return nil, 0, nil
	}
	copies := 1
	if n.dupRate > 0 && n.rnd.Float64() < n.dupRate {
		copies = 2
	}
	n.delivered += copies
	return target.handler, copies, nil
}

// Transport is one node's endpoint. Deliveries run synchronously on the
// sender's goroutine.
type Transport struct {
	id      string
	net     *Network
	handler transport.Handler
	closed  bool
}

// LocalID implements transport.Transport.
func (t *Transport) LocalID() string { return t.id }

// Peers implements transport.Transport.
func (t *Transport) Peers() []string {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()

	peers := make([]string, 0, len(t.net.nodes))
	for id, node := range t.net.nodes {
		if id != t.id && !node.closed {
			peers = append(peers, id)
		}
	}
	sort.Strings(peers)
	return peers
}

// Broadcast implements transport.Transport.
func (t *Transport) Broadcast(ctx context.Context, payload []byte) error {
	var errs []error
	for _, peer := range t.Peers() {
		if err := t.Unicast(ctx, peer, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("broadcast failed for %d peers: %w", len(errs), errs[0])
	}
	return nil
}

// Unicast implements transport.Transport.
func (t *Transport) Unicast(ctx context.Context, peer string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return storeerrors.TransportFailure(peer, err)
	}
	h, copies, err := t.net.route(t.id, peer, payload)
	if err != nil || h == nil {
		return err
	}
	for i := 0; i < copies; i++ {
		h(append([]byte(nil), payload...))
	}
	return nil
}

// SetHandler implements transport.Transport. Call before traffic flows.
func (t *Transport) SetHandler(h transport.Handler) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.handler = h
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.closed = true
	return nil
}
