package gossip

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

func (i *inbox) has(payload []byte) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, p := range i.got {
		if bytes.Equal(p, payload) {
			return true
		}
	}
	return false
}

type fakeExchanger struct {
	merged [][]byte
}

func (f *fakeExchanger) LocalState(bool) []byte { return []byte("digest") }

func (f *fakeExchanger) MergeRemoteState(buf []byte, _ bool) {
	f.merged = append(f.merged, buf)
}

func newTransport(t *testing.T, id string, seeds ...string) *Transport {
	t.Helper()
	tr, err := New(&Config{
		NodeID:           id,
		BindAddr:         "127.0.0.1",
		BindPort:         0,
		SeedNodes:        seeds,
		GossipInterval:   20 * time.Millisecond,
		ProbeInterval:    200 * time.Millisecond,
		MaxBroadcastSize: 512,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestTransport_ClusterMessaging(t *testing.T) {
	if testing.Short() {
		t.Skip("binds local sockets")
	}

	a := newTransport(t, "a")
	aIn := &inbox{}
	a.SetHandler(aIn.handle)

	var members []int
	var mu sync.Mutex
	a.SetMembershipListener(func(n int) {
		mu.Lock()
		defer mu.Unlock()
		members = append(members, n)
	})

	b := newTransport(t, "b", a.Addr())
	bIn := &inbox{}
	b.SetHandler(bIn.handle)

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"b"}, a.Peers())

	ctx := context.Background()

	small := []byte("small payload")
	require.NoError(t, a.Broadcast(ctx, small))
	require.Eventually(t, func() bool { return bIn.has(small) }, 5*time.Second, 20*time.Millisecond)

	large := bytes.Repeat([]byte("x"), 4096)
	require.NoError(t, a.Broadcast(ctx, large))
	require.Eventually(t, func() bool { return bIn.has(large) }, 5*time.Second, 20*time.Millisecond)

	direct := []byte("direct")
	require.NoError(t, b.Unicast(ctx, "a", direct))
	require.Eventually(t, func() bool { return aIn.has(direct) }, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, members[0])
	assert.Equal(t, 2, members[len(members)-1])
	mu.Unlock()

	err := a.Unicast(ctx, "nobody", direct)
	assert.True(t, storeerrors.HasCode(err, storeerrors.ErrCodeTransportFailure))
}

func TestTransport_NodeMeta(t *testing.T) {
	tr := &Transport{meta: nodeMeta{NodeID: "a", StartedAt: 1}}
	assert.JSONEq(t, `{"node_id":"a","started_at":1}`, string(tr.NodeMeta(512)))
	assert.Nil(t, tr.NodeMeta(4))
}

func TestTransport_NotifyMsgCopiesBuffer(t *testing.T) {
	tr := &Transport{}
	in := &inbox{}
	tr.SetHandler(in.handle)

	buf := []byte("abc")
	tr.NotifyMsg(buf)
	buf[0] = 'z'
	assert.True(t, in.has([]byte("abc")))
}

func TestTransport_StateExchangeForwarding(t *testing.T) {
	tr := &Transport{}
	assert.Nil(t, tr.LocalState(true))
	tr.MergeRemoteState([]byte("ignored"), true)

	ex := &fakeExchanger{}
	tr.SetStateExchanger(ex)
	assert.Equal(t, []byte("digest"), tr.LocalState(false))

	buf := []byte("remote")
	tr.MergeRemoteState(buf, false)
	tr.MergeRemoteState(nil, false)
	buf[0] = 'x'
	require.Len(t, ex.merged, 1)
	assert.Equal(t, "remote", string(ex.merged[0]))
}
