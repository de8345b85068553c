package grpcpeer

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type inbox struct {
	mu  sync.Mutex
	got [][]byte
}

func (i *inbox) handle(payload []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.got = append(i.got, payload)
}

func (i *inbox) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.got)
}

func newTransport(t *testing.T, id string) *Transport {
	t.Helper()
	tr, err := New(&Config{NodeID: id, ListenAddr: "127.0.0.1:0", CallTimeout: 2 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestTransport_UnicastAndBroadcast(t *testing.T) {
	a := newTransport(t, "a")
	b := newTransport(t, "b")
	c := newTransport(t, "c")

	addrs := map[string]string{"a": a.Addr(), "b": b.Addr(), "c": c.Addr()}
	for _, tr := range []*Transport{a, b, c} {
		tr.UpdatePeers(addrs)
	}
	assert.Equal(t, []string{"b", "c"}, a.Peers())

	bIn, cIn := &inbox{}, &inbox{}
	b.SetHandler(bIn.handle)
	c.SetHandler(cIn.handle)

	ctx := context.Background()
	require.NoError(t, a.Unicast(ctx, "b", []byte("direct")))
	require.Equal(t, 1, bIn.count())
	assert.True(t, bytes.Equal([]byte("direct"), bIn.got[0]))

	require.NoError(t, a.Broadcast(ctx, []byte("all")))
	assert.Equal(t, 2, bIn.count())
	assert.Equal(t, 1, cIn.count())
}

func TestTransport_UnknownPeer(t *testing.T) {
	a := newTransport(t, "a")
	err := a.Unicast(context.Background(), "ghost", []byte("x"))
	assert.True(t, storeerrors.HasCode(err, storeerrors.ErrCodeTransportFailure))
}

func TestTransport_BroadcastCollectsFailures(t *testing.T) {
	a := newTransport(t, "a")
	b := newTransport(t, "b")
	b.SetHandler(func([]byte) {})

	// c has no handler and answers Unavailable
	c := newTransport(t, "c")
	a.UpdatePeers(map[string]string{"b": b.Addr(), "c": c.Addr()})

	err := a.Broadcast(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.True(t, storeerrors.HasCode(err, storeerrors.ErrCodeTransportFailure))
}

func TestTransport_UpdatePeersDropsStaleConnections(t *testing.T) {
	a := newTransport(t, "a")
	b := newTransport(t, "b")
	b.SetHandler(func([]byte) {})

	a.UpdatePeers(map[string]string{"a": a.Addr(), "b": b.Addr()})
	require.NoError(t, a.Unicast(context.Background(), "b", []byte("x")))
	assert.Len(t, a.connections, 1)

	a.UpdatePeers(map[string]string{})
	assert.Empty(t, a.Peers())
	assert.Empty(t, a.connections)
}

func TestTransport_DeliverWithoutHandler(t *testing.T) {
	a := newTransport(t, "a")
	_, err := a.Deliver(context.Background(), wrapperspb.Bytes([]byte("x")))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
