// Package transport defines how encoded peer messages move between nodes.
// Delivery is best effort: messages may be lost, duplicated or reordered.
package transport

import "context"

// Handler receives one inbound payload. Implementations of Transport may
// reuse nothing the handler is given; payloads belong to the handler.
type Handler func(payload []byte)

// Transport moves opaque payloads between cluster members identified by
// node id.
type Transport interface {
	LocalID() string
	Peers() []string
	Broadcast(ctx context.Context, payload []byte) error
	Unicast(ctx context.Context, peer string, payload []byte) error
	SetHandler(h Handler)
	Close() error
}

// StateExchanger is offered by transports that sync full state when a
// node joins (memberlist push/pull). The anti-entropy digest rides on it.
type StateExchanger interface {
	LocalState(join bool) []byte
	MergeRemoteState(buf []byte, join bool)
}

// StateSyncer is a Transport that can carry a StateExchanger.
type StateSyncer interface {
	SetStateExchanger(x StateExchanger)
}

// MembershipListener is told when the member count changes.
type MembershipListener func(members int)

// MembershipNotifier is a Transport that reports membership changes.
type MembershipNotifier interface {
	SetMembershipListener(l MembershipListener)
}
