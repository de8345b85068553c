package service

import (
	"context"
	"errors"
	"testing"

	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/opennetworkinglab/onos-sub118/internal/metrics"
	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"github.com/opennetworkinglab/onos-sub118/internal/transport"
	"github.com/opennetworkinglab/onos-sub118/internal/wire"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockTransport struct {
	mock.Mock
	handler transport.Handler
}

func (m *mockTransport) LocalID() string { return "me" }

func (m *mockTransport) Peers() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *mockTransport) Broadcast(ctx context.Context, payload []byte) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *mockTransport) Unicast(ctx context.Context, peer string, payload []byte) error {
	args := m.Called(ctx, peer, payload)
	return args.Error(0)
}

func (m *mockTransport) SetHandler(h transport.Handler) { m.handler = h }

func (m *mockTransport) Close() error { return nil }

type recordingHandler struct {
	changed []*wire.EntityChanged
	removed []*wire.EntityRemoved
	digests []*wire.AntiEntropyDigest
}

func (r *recordingHandler) HandleEntityChanged(_ context.Context, msg *wire.EntityChanged) {
	r.changed = append(r.changed, msg)
}

func (r *recordingHandler) HandleEntityRemoved(_ context.Context, msg *wire.EntityRemoved) {
	r.removed = append(r.removed, msg)
}

func (r *recordingHandler) HandleDigest(_ context.Context, msg *wire.AntiEntropyDigest) {
	r.digests = append(r.digests, msg)
}

func TestMessenger_BroadcastEncodes(t *testing.T) {
	tr := &mockTransport{}
	m := metrics.NewMetrics("me", nil)
	msgr := NewMessenger(tr, wire.JSONCodec{}, nil, 0, m, zap.NewNop())

	removed := &wire.EntityRemoved{SenderID: "me", Key: "H1", Timestamp: model.Timestamp{Physical: 3, Node: "me"}}
	tr.On("Broadcast", mock.Anything, mock.MatchedBy(func(p []byte) bool {
		decoded, err := wire.Decode(wire.JSONCodec{}, p)
		return err == nil && decoded.(*wire.EntityRemoved).Key == "H1"
	})).Return(nil).Once()

	msgr.Broadcast(removed)
	tr.AssertExpectations(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesTotal.WithLabelValues("out", "entity_removed")))
}

func TestMessenger_BroadcastFailureIsCounted(t *testing.T) {
	tr := &mockTransport{}
	m := metrics.NewMetrics("me", nil)
	msgr := NewMessenger(tr, wire.NewMsgpackCodec(), nil, 0, m, zap.NewNop())

	tr.On("Broadcast", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	msgr.Broadcast(&wire.EntityRemoved{SenderID: "me", Key: "H1", Timestamp: model.Timestamp{Physical: 1}})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SendFailures.WithLabelValues("entity_removed")))
}

func TestMessenger_SendWrapsTransportErrors(t *testing.T) {
	tr := &mockTransport{}
	msgr := NewMessenger(tr, wire.NewMsgpackCodec(), nil, 0, nil, zap.NewNop())

	tr.On("Unicast", mock.Anything, "peer-1", mock.Anything).Return(errors.New("reset by peer"))
	err := msgr.Send(context.Background(), "peer-1", &wire.EntityRemoved{SenderID: "me", Key: "H1", Timestamp: model.Timestamp{Physical: 1}})

	require.Error(t, err)
	assert.True(t, storeerrors.HasCode(err, storeerrors.ErrCodeTransportFailure))
}

func TestMessenger_Dispatch(t *testing.T) {
	tr := &mockTransport{}
	codec := wire.NewMsgpackCodec()
	msgr := NewMessenger(tr, codec, nil, 0, nil, zap.NewNop())
	h := &recordingHandler{}
	msgr.Bind(h, h)
	require.NotNil(t, tr.handler)

	deliver := func(msg wire.Message) {
		payload, err := wire.Encode(codec, msg)
		require.NoError(t, err)
		tr.handler(payload)
	}

	ts := model.Timestamp{Physical: 1, Node: "peer"}
	deliver(&wire.EntityChanged{SenderID: "peer", Key: "H1", Provider: "of", Value: &model.Description{}, Timestamp: ts})
	deliver(&wire.EntityRemoved{SenderID: "peer", Key: "H1", Timestamp: ts})
	deliver(&wire.AntiEntropyDigest{SenderID: "peer", RoundID: "r1"})
	deliver(&wire.EntityRemoved{SenderID: "me", Key: "H1", Timestamp: ts})
	tr.handler([]byte{0x02})

	assert.Len(t, h.changed, 1)
	assert.Len(t, h.removed, 1)
	require.Len(t, h.digests, 1)
	assert.Equal(t, "r1", h.digests[0].RoundID)
}
