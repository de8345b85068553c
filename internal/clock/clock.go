// Package clock issues logical timestamps for entity mutations.
package clock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opennetworkinglab/onos-sub118/internal/model"
)

// Source stamps local mutations. Implementations must be safe for
// concurrent use and must tag every timestamp with the local node id.
type Source interface {
	Next(key model.EntityKey) model.Timestamp
}

// Observer is implemented by sources that can be advanced past a
// timestamp seen from a peer, so the next local stamp sorts after it.
type Observer interface {
	Observe(ts model.Timestamp)
}

// After returns a timestamp issued by src that is strictly newer than
// floor. Sources that cannot observe are bumped by one logical tick.
func After(src Source, key model.EntityKey, floor model.Timestamp) model.Timestamp {
	if o, ok := src.(Observer); ok {
		o.Observe(floor)
	}
	ts := src.Next(key)
	if !ts.IsNewerThan(floor) {
		ts = model.Timestamp{Physical: floor.Physical, Logical: floor.Logical + 1, Node: ts.Node}
	}
	return ts
}

// HybridClock is a hybrid logical clock: wall time when it moves forward,
// a logical counter otherwise. Immune to backwards wall-clock steps.
type HybridClock struct {
	nodeID string
	now    func() time.Time

	mu   sync.Mutex
	phys int64
	log  uint64
}

// NewHybridClock creates a hybrid clock for nodeID.
func NewHybridClock(nodeID string) *HybridClock {
	return &HybridClock{nodeID: nodeID, now: time.Now}
}

// Next implements Source.
func (c *HybridClock) Next(model.EntityKey) model.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now().UnixNano()
	if wall > c.phys {
		c.phys = wall
		c.log = 0
	} else {
		c.log++
	}
	return model.Timestamp{Physical: c.phys, Logical: c.log, Node: c.nodeID}
}

// Observe implements Observer.
func (c *HybridClock) Observe(ts model.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts.Physical > c.phys || (ts.Physical == c.phys && ts.Logical > c.log) {
		c.phys = ts.Physical
		c.log = ts.Logical
	}
}

// WallClock stamps with wall time and a per-node sequence for ties. It
// trusts the host clock, so a node whose clock runs behind loses every
// conflict.
type WallClock struct {
	nodeID string
	now    func() time.Time
	seq    atomic.Uint64
}

// NewWallClock creates a wall clock for nodeID.
func NewWallClock(nodeID string) *WallClock {
	return &WallClock{nodeID: nodeID, now: time.Now}
}

// Next implements Source.
func (c *WallClock) Next(model.EntityKey) model.Timestamp {
	return model.Timestamp{
		Physical: c.now().UnixNano(),
		Logical:  c.seq.Add(1),
		Node:     c.nodeID,
	}
}

// EpochClock stamps with an ownership epoch and a sequence number. The
// epoch is raised whenever this node takes over as the writer for a key
// space, so writes from a newer term always win over an older term.
type EpochClock struct {
	nodeID string
	epoch  atomic.Int64
	seq    atomic.Uint64
}

// NewEpochClock creates an epoch clock starting at epoch.
func NewEpochClock(nodeID string, epoch int64) *EpochClock {
	c := &EpochClock{nodeID: nodeID}
	c.epoch.Store(epoch)
	return c
}

// SetEpoch moves to a new term. Terms never go backwards.
func (c *EpochClock) SetEpoch(epoch int64) {
	for {
		cur := c.epoch.Load()
		if epoch <= cur {
			return
		}
		if c.epoch.CompareAndSwap(cur, epoch) {
			c.seq.Store(0)
			return
		}
	}
}

// Next implements Source.
func (c *EpochClock) Next(model.EntityKey) model.Timestamp {
	return model.Timestamp{
		Physical: c.epoch.Load(),
		Logical:  c.seq.Add(1),
		Node:     c.nodeID,
	}
}

// Observe implements Observer.
func (c *EpochClock) Observe(ts model.Timestamp) {
	c.SetEpoch(ts.Physical)
}

// New builds a source by kind: "hybrid", "wall" or "epoch".
func New(kind, nodeID string) (Source, error) {
	switch kind {
	case "", "hybrid":
		return NewHybridClock(nodeID), nil
	case "wall":
		return NewWallClock(nodeID), nil
	case "epoch":
		return NewEpochClock(nodeID, 1), nil
	default:
		return nil, fmt.Errorf("unknown clock kind %q", kind)
	}
}
