package store

import (
	"github.com/opennetworkinglab/onos-sub118/internal/clock"
	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"go.uber.org/zap"
)

const (
	opUpdate = "update"
	opRemove = "remove"
)

// ApplyCreateOrUpdate merges one provider's description of an entity.
// It returns the resulting delta and, unless the candidate was rejected,
// a copy of the fragment as now stored (its description and timestamp may
// differ from the candidate's after merging).
//
// Local writes and peer input take the same path.
func (s *Store) ApplyCreateOrUpdate(cand *model.Fragment) (model.Delta, *model.Fragment) {
	if o, ok := s.clock.(clock.Observer); ok {
		o.Observe(cand.Timestamp)
	}

	desc := cand.Description.Clone()
	if desc == nil {
		desc = &model.Description{}
	}
	desc.Normalize()

	sh := s.shardFor(cand.Key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delta := model.Delta{Key: cand.Key, Timestamp: cand.Timestamp}

	if tomb, ok := sh.tombstones[cand.Key]; ok {
		if tomb.ts.Compare(cand.Timestamp) >= 0 {
			s.logger.Debug("Stale write rejected by tombstone",
				zap.String("key", string(cand.Key)),
				zap.Stringer("tombstone", tomb.ts),
				zap.Stringer("candidate", cand.Timestamp))
			return s.reject(opUpdate, delta), nil
		}
		delete(sh.tombstones, cand.Key)
		s.tombstones.Add(-1)

		rec := &record{
			fragments: map[model.ProviderID]*fragment{cand.Provider: {desc: desc, ts: cand.Timestamp}},
			floor:     tomb.ts,
		}
		return s.insert(sh, rec, delta, cand.Provider)
	}

	rec, exists := sh.records[cand.Key]
	if !exists {
		rec = &record{fragments: map[model.ProviderID]*fragment{cand.Provider: {desc: desc, ts: cand.Timestamp}}}
		return s.insert(sh, rec, delta, cand.Provider)
	}

	if rec.floor.Compare(cand.Timestamp) >= 0 {
		s.logger.Debug("Stale write rejected by earlier removal",
			zap.String("key", string(cand.Key)),
			zap.String("provider", string(cand.Provider)),
			zap.Stringer("floor", rec.floor),
			zap.Stringer("candidate", cand.Timestamp))
		return s.reject(opUpdate, delta), nil
	}

	existing, known := rec.fragments[cand.Provider]
	var next *fragment
	switch {
	case !known:
		next = &fragment{desc: desc, ts: cand.Timestamp}

	case cand.Timestamp.IsNewerThan(existing.ts):
		merged := s.policy.MergeNewer(existing.desc, desc)
		ts := cand.Timestamp
		if !merged.Equal(desc) {
			// The stored value is no longer what the writer sent; give it a
			// timestamp of its own so it wins later digest comparisons.
			ts = clock.After(s.clock, cand.Key, cand.Timestamp)
		}
		next = &fragment{desc: merged, ts: ts}

	case cand.Timestamp.Compare(existing.ts) == 0:
		delta.Outcome = model.AppliedNoop
		return s.commit(opUpdate, delta), s.storedFragment(cand.Key, cand.Provider, rec)

	default:
		merged, added := s.policy.MergeOlder(existing.desc, desc)
		if !added {
			s.logger.Debug("Stale write rejected",
				zap.String("key", string(cand.Key)),
				zap.String("provider", string(cand.Provider)),
				zap.Stringer("stored", existing.ts),
				zap.Stringer("candidate", cand.Timestamp))
			return s.reject(opUpdate, delta), nil
		}
		next = &fragment{desc: merged, ts: clock.After(s.clock, cand.Key, existing.ts)}
	}

	rec.fragments[cand.Provider] = next
	delta.Timestamp = next.ts
	return s.recompose(sh, rec, delta, opUpdate), s.storedFragment(cand.Key, cand.Provider, rec)
}

// ApplyRemoval removes key at ts. Every fragment stamped at or before ts
// dies, and ts becomes the floor below which no fragment may come back. A
// removal older than every stored fragment is rejected. The tombstone is
// recorded even for an unknown key, so a create delivered after its own
// removal stays dead.
func (s *Store) ApplyRemoval(key model.EntityKey, ts model.Timestamp) model.Delta {
	if o, ok := s.clock.(clock.Observer); ok {
		o.Observe(ts)
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delta := model.Delta{Key: key, Timestamp: ts}

	rec, exists := sh.records[key]
	if !exists {
		s.recordTombstone(sh, key, ts)
		delta.Outcome = model.AppliedNoop
		return s.commit(opRemove, delta)
	}

	rec.floor = model.MaxTimestamp(rec.floor, ts)

	dropped := 0
	for p, f := range rec.fragments {
		if !f.ts.IsNewerThan(ts) {
			delete(rec.fragments, p)
			dropped++
		}
	}
	if dropped == 0 {
		s.logger.Debug("Stale removal rejected",
			zap.String("key", string(key)),
			zap.Stringer("stored", rec.current.Timestamp),
			zap.Stringer("candidate", ts))
		return s.reject(opRemove, delta)
	}

	if len(rec.fragments) > 0 {
		// Another provider's newer report keeps the entity alive.
		return s.recompose(sh, rec, delta, opRemove)
	}

	delete(sh.records, key)
	s.entities.Add(-1)
	sh.reindex(key, rec.current, nil)
	s.recordTombstone(sh, key, rec.floor)

	delta.Outcome = model.AppliedRemoved
	delta.Subject = rec.current.Clone()
	return s.commit(opRemove, delta)
}

// insert adds a new record holding one fragment. Caller holds the shard
// write lock.
func (s *Store) insert(sh *shard, rec *record, delta model.Delta, p model.ProviderID) (model.Delta, *model.Fragment) {
	rec.current = compose(delta.Key, rec.fragments)
	sh.records[delta.Key] = rec
	s.entities.Add(1)
	sh.reindex(delta.Key, nil, rec.current)

	delta.Outcome = model.AppliedAdded
	delta.Subject = rec.current.Clone()
	return s.commit(opUpdate, delta), s.storedFragment(delta.Key, p, rec)
}

// recompose rebuilds the canonical entity after its fragments changed and
// classifies the visible difference. Caller holds the shard write lock.
func (s *Store) recompose(sh *shard, rec *record, delta model.Delta, op string) model.Delta {
	prev := rec.current
	cur := compose(delta.Key, rec.fragments)
	rec.current = cur

	switch {
	case prev.Location != cur.Location:
		delta.Outcome = model.AppliedMoved
	case !prev.SameValue(cur):
		delta.Outcome = model.AppliedUpdated
	default:
		// Nothing a reader can see changed; the timestamp still moves
		// forward so every replica agrees on it.
		delta.Outcome = model.AppliedNoop
		return s.commit(op, delta)
	}

	sh.reindex(delta.Key, prev, cur)
	delta.Subject = cur.Clone()
	delta.Previous = prev.Clone()
	return s.commit(op, delta)
}

// recordTombstone records or refreshes key's tombstone, never moving it
// backwards. Caller holds the shard write lock.
func (s *Store) recordTombstone(sh *shard, key model.EntityKey, ts model.Timestamp) {
	old, ok := sh.tombstones[key]
	if !ok {
		s.tombstones.Add(1)
	}
	sh.tombstones[key] = tombstone{ts: model.MaxTimestamp(old.ts, ts), removed: s.now()}
}

func (s *Store) reject(op string, delta model.Delta) model.Delta {
	delta.Outcome = model.Rejected
	s.metrics.RecordOutcome(op, model.Rejected)
	return delta
}

// commit records the decision and fires the delegate for effective
// deltas. Caller holds the shard write lock.
func (s *Store) commit(op string, delta model.Delta) model.Delta {
	s.metrics.RecordOutcome(op, delta.Outcome)
	if delta.Effective() {
		s.notify(delta)
	}
	s.updateGauges()
	return delta
}

func (s *Store) storedFragment(key model.EntityKey, p model.ProviderID, rec *record) *model.Fragment {
	f := rec.fragments[p]
	return &model.Fragment{Key: key, Provider: p, Description: f.desc.Clone(), Timestamp: f.ts}
}
