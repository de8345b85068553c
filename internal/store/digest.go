package store

import (
	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"go.uber.org/zap"
)

// Digest is a point-in-time summary of the store: one timestamp per live
// fragment and one per removed key. A live entity that survived a removal
// reports that removal too. Shards are captured one at a time, so
// the digest is consistent per key but not across keys.
type Digest struct {
	Live       map[model.FragmentKey]model.Timestamp
	Tombstones map[model.EntityKey]model.Timestamp
}

// EntityTimestamp returns the newest fragment timestamp the digest holds
// for key.
func (d *Digest) EntityTimestamp(key model.EntityKey) (model.Timestamp, bool) {
	var newest model.Timestamp
	found := false
	for fk, ts := range d.Live {
		if fk.Key != key {
			continue
		}
		newest = model.MaxTimestamp(newest, ts)
		found = true
	}
	return newest, found
}

// Digest snapshots the store's timestamps.
func (s *Store) Digest() *Digest {
	d := &Digest{
		Live:       make(map[model.FragmentKey]model.Timestamp, s.Count()),
		Tombstones: make(map[model.EntityKey]model.Timestamp, s.TombstoneCount()),
	}
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key, rec := range sh.records {
			for p, f := range rec.fragments {
				d.Live[model.FragmentKey{Key: key, Provider: p}] = f.ts
			}
			if !rec.floor.IsZero() {
				d.Tombstones[key] = rec.floor
			}
		}
		for key, t := range sh.tombstones {
			d.Tombstones[key] = t.ts
		}
		sh.mu.RUnlock()
	}
	return d
}

// CompactTombstones drops tombstones older than the configured TTL and
// returns how many were dropped. With a zero TTL tombstones are kept
// forever. A dropped tombstone can no longer stop a stale create for its
// key, so the TTL must exceed the longest expected partition.
func (s *Store) CompactTombstones() int {
	if s.tombstoneTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.tombstoneTTL)
	dropped := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, t := range sh.tombstones {
			if t.removed.Before(cutoff) {
				delete(sh.tombstones, key)
				dropped++
			}
		}
		sh.mu.Unlock()
	}
	if dropped > 0 {
		s.tombstones.Add(int64(-dropped))
		s.updateGauges()
		s.logger.Info("Compacted tombstones",
			zap.Int("dropped", dropped),
			zap.Duration("ttl", s.tombstoneTTL),
			zap.Time("cutoff", cutoff))
	}
	return dropped
}
