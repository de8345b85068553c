package redispubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	storeerrors "github.com/opennetworkinglab/onos-sub118/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type inbox struct {
	mu  sync.Mutex
	got []string
}

func (i *inbox) handle(payload []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.got = append(i.got, string(payload))
}

func (i *inbox) has(s string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, g := range i.got {
		if g == s {
			return true
		}
	}
	return false
}

func newTransport(t *testing.T, srv *miniredis.Miniredis, id string) *Transport {
	t.Helper()
	tr, err := New(&Config{
		NodeID:            id,
		Addr:              srv.Addr(),
		PresenceTTL:       time.Minute,
		HeartbeatInterval: 20 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return tr
}

func TestTransport_Messaging(t *testing.T) {
	srv := miniredis.RunT(t)

	a := newTransport(t, srv, "a")
	defer a.Close()
	b := newTransport(t, srv, "b")
	defer b.Close()

	aIn, bIn := &inbox{}, &inbox{}
	a.SetHandler(aIn.handle)
	b.SetHandler(bIn.handle)

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"b"}, a.Peers())

	ctx := context.Background()
	require.NoError(t, a.Broadcast(ctx, []byte("to everyone")))
	require.Eventually(t, func() bool { return bIn.has("to everyone") }, 2*time.Second, 10*time.Millisecond)
	// the sender hears its own broadcast
	require.Eventually(t, func() bool { return aIn.has("to everyone") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Unicast(ctx, "a", []byte("just a")))
	require.Eventually(t, func() bool { return aIn.has("just a") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, bIn.has("just a"))
}

func TestTransport_UnicastWithoutSubscriber(t *testing.T) {
	srv := miniredis.RunT(t)
	a := newTransport(t, srv, "a")
	defer a.Close()

	err := a.Unicast(context.Background(), "ghost", []byte("x"))
	assert.True(t, storeerrors.HasCode(err, storeerrors.ErrCodeTransportFailure))
}

func TestTransport_PresenceWithdrawnOnClose(t *testing.T) {
	srv := miniredis.RunT(t)
	a := newTransport(t, srv, "a")
	defer a.Close()
	b := newTransport(t, srv, "b")

	require.Eventually(t, func() bool { return len(a.Peers()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return len(a.Peers()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestNew_ConnectionFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := New(&Config{NodeID: "a", Addr: addr}, zap.NewNop())
	assert.Error(t, err)
}
