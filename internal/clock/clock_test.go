package clock

import (
	"testing"
	"time"

	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHybridClock_MonotonicUnderFrozenWallClock(t *testing.T) {
	c := NewHybridClock("n1")
	frozen := time.Unix(100, 0)
	c.now = func() time.Time { return frozen }

	prev := c.Next("k")
	for i := 0; i < 100; i++ {
		next := c.Next("k")
		assert.True(t, next.IsNewerThan(prev))
		prev = next
	}
	assert.Equal(t, "n1", prev.Node)
}

func TestHybridClock_WallClockStepsBack(t *testing.T) {
	c := NewHybridClock("n1")
	c.now = func() time.Time { return time.Unix(200, 0) }
	first := c.Next("k")

	c.now = func() time.Time { return time.Unix(100, 0) }
	second := c.Next("k")

	assert.True(t, second.IsNewerThan(first))
}

func TestHybridClock_ObserveRemote(t *testing.T) {
	c := NewHybridClock("n1")
	c.now = func() time.Time { return time.Unix(100, 0) }

	remote := model.Timestamp{Physical: time.Unix(500, 0).UnixNano(), Logical: 7, Node: "n2"}
	c.Observe(remote)

	assert.True(t, c.Next("k").IsNewerThan(remote))
}

func TestAfter_BumpsSourcesThatCannotObserve(t *testing.T) {
	w := NewWallClock("n1")
	w.now = func() time.Time { return time.Unix(1, 0) }

	floor := model.Timestamp{Physical: time.Unix(10, 0).UnixNano(), Logical: 3, Node: "n9"}
	ts := After(w, "k", floor)

	assert.True(t, ts.IsNewerThan(floor))
	assert.Equal(t, "n1", ts.Node)
}

func TestEpochClock(t *testing.T) {
	c := NewEpochClock("n1", 3)
	a := c.Next("k")
	b := c.Next("k")
	assert.True(t, b.IsNewerThan(a))

	c.SetEpoch(2)
	assert.Equal(t, int64(3), c.Next("k").Physical)

	c.SetEpoch(4)
	d := c.Next("k")
	assert.Equal(t, int64(4), d.Physical)
	assert.Equal(t, uint64(1), d.Logical)
	assert.True(t, d.IsNewerThan(b))
}

func TestNew(t *testing.T) {
	for _, kind := range []string{"", "hybrid", "wall", "epoch"} {
		src, err := New(kind, "n1")
		require.NoError(t, err)
		assert.Equal(t, "n1", src.Next("k").Node)
	}

	_, err := New("lamport", "n1")
	assert.Error(t, err)
}
