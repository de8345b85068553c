package local

import (
	"context"
	"testing"

	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	got [][]byte
}

func (i *inbox) handle(payload []byte) { i.got = append(i.got, payload) }

func joinAll(net *Network, ids ...string) map[string]*inbox {
	boxes := make(map[string]*inbox, len(ids))
	for _, id := range ids {
		b := &inbox{}
		net.Join(id).SetHandler(b.handle)
		boxes[id] = b
	}
	return boxes
}

func TestTransport_BroadcastReachesPeersOnly(t *testing.T) {
	net := NewNetwork(1)
	boxes := joinAll(net, "b", "c")
	a := net.Join("a")

	assert.Equal(t, []string{"b", "c"}, a.Peers())
	require.NoError(t, a.Broadcast(context.Background(), []byte("hi")))

	assert.Equal(t, [][]byte{[]byte("hi")}, boxes["b"].got)
	assert.Equal(t, [][]byte{[]byte("hi")}, boxes["c"].got)
}

func TestTransport_PayloadIsCopied(t *testing.T) {
	net := NewNetwork(1)
	boxes := joinAll(net, "b")
	a := net.Join("a")

	buf := []byte("abc")
	require.NoError(t, a.Unicast(context.Background(), "b", buf))
	buf[0] = 'x'
	assert.Equal(t, "abc", string(boxes["b"].got[0]))
}

func TestTransport_UnknownAndClosedPeers(t *testing.T) {
	net := NewNetwork(1)
	a := net.Join("a")
	b := net.Join("b")

	err := a.Unicast(context.Background(), "zz", []byte("x"))
	assert.True(t, storeerrors.HasCode(err, storeerrors.ErrCodeTransportFailure))

	require.NoError(t, b.Close())
	assert.Empty(t, a.Peers())
	err = a.Unicast(context.Background(), "b", []byte("x"))
	assert.True(t, storeerrors.HasCode(err, storeerrors.ErrCodeTransportFailure))
}

func TestTransport_CancelledContext(t *testing.T) {
	net := NewNetwork(1)
	joinAll(net, "b")
	a := net.Join("a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Unicast(ctx, "b", []byte("x"))
	assert.True(t, storeerrors.HasCode(err, storeerrors.ErrCodeTransportFailure))
}

func TestNetwork_PartitionAndHeal(t *testing.T) {
	net := NewNetwork(1)
	boxes := joinAll(net, "b")
	a := net.Join("a")

	net.Partition("a", "b")
	require.NoError(t, a.Unicast(context.Background(), "b", []byte("lost")))
	assert.Empty(t, boxes["b"].got)

	net.Heal()
	require.NoError(t, a.Unicast(context.Background(), "b", []byte("found")))
	require.Len(t, boxes["b"].got, 1)

	delivered, dropped := net.Stats()
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, dropped)
}

func TestNetwork_LossAndDuplication(t *testing.T) {
	t.Run("drop everything", func(t *testing.T) {
		net := NewNetwork(7)
		boxes := joinAll(net, "b")
		a := net.Join("a")
		net.SetLoss(1, 0)

		for i := 0; i < 20; i++ {
			require.NoError(t, a.Unicast(context.Background(), "b", []byte("x")))
		}
		assert.Empty(t, boxes["b"].got)
	})

	t.Run("duplicate everything", func(t *testing.T) {
		net := NewNetwork(7)
		boxes := joinAll(net, "b")
		a := net.Join("a")
		net.SetLoss(0, 1)

		require.NoError(t, a.Unicast(context.Background(), "b", []byte("x")))
		assert.Len(t, boxes["b"].got, 2)
	})
}

func TestNetwork_Intercept(t *testing.T) {
	net := NewNetwork(1)
	boxes := joinAll(net, "b", "c")
	a := net.Join("a")

	net.Intercept(func(from, to string, payload []byte) bool { return to != "c" })
	require.NoError(t, a.Broadcast(context.Background(), []byte("x")))

	assert.Len(t, boxes["b"].got, 1)
	assert.Empty(t, boxes["c"].got)
}
