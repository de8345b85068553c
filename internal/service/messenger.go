package service

import (
	"context"
	"time"

	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/opennetworkinglab/onos-sub118/internal/metrics"
	"github.com/opennetworkinglab/onos-sub118/internal/transport"
	"github.com/opennetworkinglab/onos-sub118/internal/util/workerpool"
	"github.com/opennetworkinglab/onos-sub118/internal/wire"
	"go.uber.org/zap"
)

// EntityHandler consumes entity messages from peers
type EntityHandler interface {
	HandleEntityChanged(ctx context.Context, msg *wire.EntityChanged)
	HandleEntityRemoved(ctx context.Context, msg *wire.EntityRemoved)
}

// DigestHandler consumes anti-entropy digests from peers
type DigestHandler interface {
	HandleDigest(ctx context.Context, msg *wire.AntiEntropyDigest)
}

// Messenger encodes outbound messages, hands them to the transport off the
// caller's goroutine, and decodes and dispatches inbound ones.
type Messenger struct {
	nodeID      string
	transport   transport.Transport
	codec       wire.Codec
	pool        *workerpool.WorkerPool
	sendTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger

	entities EntityHandler
	digests  DigestHandler
}

// NewMessenger creates a messenger. With a nil pool sends and inbound
// handling run on the calling goroutine.
func NewMessenger(
	t transport.Transport,
	codec wire.Codec,
	pool *workerpool.WorkerPool,
	sendTimeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Messenger {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Messenger{
		nodeID:      t.LocalID(),
		transport:   t,
		codec:       codec,
		pool:        pool,
		sendTimeout: sendTimeout,
		metrics:     m,
		logger:      logger,
	}
}

// Bind attaches the inbound handlers and starts accepting traffic
func (m *Messenger) Bind(entities EntityHandler, digests DigestHandler) {
	m.entities = entities
	m.digests = digests
	m.transport.SetHandler(m.receive)
}

// NodeID returns the local node id messages are stamped with
func (m *Messenger) NodeID() string {
	return m.nodeID
}

// Peers returns the transport's current peers
func (m *Messenger) Peers() []string {
	return m.transport.Peers()
}

// Encode frames a message with the configured codec
func (m *Messenger) Encode(msg wire.Message) ([]byte, error) {
	return wire.Encode(m.codec, msg)
}

// Decode parses a frame with the configured codec
func (m *Messenger) Decode(payload []byte) (wire.Message, error) {
	return wire.Decode(m.codec, payload)
}

// Broadcast sends msg to every peer without waiting. Failures are logged
// and counted; anti-entropy repairs whatever gets lost.
func (m *Messenger) Broadcast(msg wire.Message) {
	payload, err := m.Encode(msg)
	if err != nil {
		m.logger.Warn("Failed to encode broadcast", zap.String("type", msg.Kind().String()), zap.Error(err))
		m.metrics.RecordSendFailure(msg.Kind().String())
		return
	}
	m.metrics.RecordMessage("out", msg.Kind().String(), len(payload))

	send := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
		defer cancel()
		if err := m.transport.Broadcast(ctx, payload); err != nil {
			m.metrics.RecordSendFailure(msg.Kind().String())
			m.logger.Warn("Broadcast failed",
				zap.String("type", msg.Kind().String()),
				zap.Error(err))
			return err
		}
		return nil
	}

	if m.pool == nil {
		_ = send(context.Background())
		return
	}
	if !m.pool.TrySubmit(workerpool.Task{ID: "broadcast-" + msg.Kind().String(), Fn: send}) {
		m.metrics.RecordSendFailure(msg.Kind().String())
		m.logger.Warn("Dropping broadcast, send queue full", zap.String("type", msg.Kind().String()))
	}
}

// Send delivers msg to one peer and waits for the transport to accept it
func (m *Messenger) Send(ctx context.Context, peer string, msg wire.Message) error {
	payload, err := m.Encode(msg)
	if err != nil {
		m.metrics.RecordSendFailure(msg.Kind().String())
		return storeerrors.TransportFailure(peer, err)
	}
	m.metrics.RecordMessage("out", msg.Kind().String(), len(payload))

	if err := m.transport.Unicast(ctx, peer, payload); err != nil {
		m.metrics.RecordSendFailure(msg.Kind().String())
		if storeerrors.IsStoreError(err) {
			return err
		}
		return storeerrors.TransportFailure(peer, err)
	}
	return nil
}

// receive is the transport handler
func (m *Messenger) receive(payload []byte) {
	if m.pool == nil {
		m.dispatch(context.Background(), payload)
		return
	}
	task := workerpool.Task{ID: "inbound", Fn: func(ctx context.Context) error {
		m.dispatch(ctx, payload)
		return nil
	}}
	if !m.pool.TrySubmit(task) {
		// Dropped like any lost message; anti-entropy repairs it.
		m.logger.Warn("Dropping inbound message, queue full", zap.Int("size", len(payload)))
	}
}

// dispatch decodes one payload and routes it by message kind
func (m *Messenger) dispatch(ctx context.Context, payload []byte) {
	msg, err := m.Decode(payload)
	if err != nil {
		m.metrics.RecordMalformed()
		m.logger.Warn("Dropping malformed message", zap.Int("size", len(payload)), zap.Error(err))
		return
	}
	if msg.Sender() == m.nodeID {
		return
	}
	m.metrics.RecordMessage("in", msg.Kind().String(), len(payload))

	switch msg := msg.(type) {
	case *wire.EntityChanged:
		if m.entities != nil {
			m.entities.HandleEntityChanged(ctx, msg)
		}
	case *wire.EntityRemoved:
		if m.entities != nil {
			m.entities.HandleEntityRemoved(ctx, msg)
		}
	case *wire.AntiEntropyDigest:
		if m.digests != nil {
			m.digests.HandleDigest(ctx, msg)
		}
	}
}
