// Package store holds the replicated entity table, its tombstones and
// secondary indices, and the merge engine that is the only writer of all
// three.
package store

import (
	"hash/fnv"
	"sort"
	"sync/atomic"
	"time"

	"github.com/opennetworkinglab/onos-sub118/internal/clock"
	"github.com/opennetworkinglab/onos-sub118/internal/metrics"
	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"go.uber.org/zap"
)

const defaultShards = 32

// Delegate receives effective deltas. Notify runs inside the mutation's
// critical section, so it must return quickly and must not call back
// into the store.
type Delegate interface {
	Notify(delta model.Delta)
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(delta model.Delta)

// Notify implements Delegate.
func (f DelegateFunc) Notify(delta model.Delta) { f(delta) }

type delegateBox struct {
	d Delegate
}

// Config holds store configuration
type Config struct {
	Shards       int
	Policy       MergePolicy
	TombstoneTTL time.Duration
}

// Store is a sharded entity table with tombstones and secondary indices.
type Store struct {
	shards       []*shard
	clock        clock.Source
	policy       MergePolicy
	tombstoneTTL time.Duration
	now          func() time.Time
	delegate     atomic.Pointer[delegateBox]
	entities     atomic.Int64
	tombstones   atomic.Int64
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// New creates a store. The clock is used to re-stamp fragments whose
// stored value ends up differing from what a writer sent.
func New(cfg *Config, src clock.Source, m *metrics.Metrics, logger *zap.Logger) *Store {
	if cfg == nil {
		cfg = &Config{}
	}
	n := cfg.Shards
	if n <= 0 {
		n = defaultShards
	}
	policy := cfg.Policy
	if policy == nil {
		policy = UnionPolicy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		shards:       make([]*shard, n),
		clock:        src,
		policy:       policy,
		tombstoneTTL: cfg.TombstoneTTL,
		now:          time.Now,
		metrics:      m,
		logger:       logger,
	}
	for i := range s.shards {
		s.shards[i] = newShard()
	}
	return s
}

// SetDelegate registers the sink for effective deltas. nil clears it.
func (s *Store) SetDelegate(d Delegate) {
	if d == nil {
		s.delegate.Store(nil)
		return
	}
	s.delegate.Store(&delegateBox{d: d})
}

func (s *Store) notify(delta model.Delta) {
	s.metrics.RecordDelegate(delta.Outcome)
	if box := s.delegate.Load(); box != nil {
		box.d.Notify(delta)
	}
}

func (s *Store) shardFor(key model.EntityKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get returns a copy of the canonical entity for key.
func (s *Store) Get(key model.EntityKey) (*model.Entity, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.records[key]
	if !ok {
		return nil, false
	}
	return rec.current.Clone(), true
}

// GetAll returns copies of every live entity, ordered by key.
func (s *Store) GetAll() []*model.Entity {
	out := make([]*model.Entity, 0, s.Count())
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rec := range sh.records {
			out = append(out, rec.current.Clone())
		}
		sh.mu.RUnlock()
	}
	sortEntities(out)
	return out
}

// GetByIndex returns copies of the live entities whose derived key
// equals ik, ordered by key.
func (s *Store) GetByIndex(ik model.IndexKey) []*model.Entity {
	var out []*model.Entity
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key := range sh.index[ik] {
			out = append(out, sh.records[key].current.Clone())
		}
		sh.mu.RUnlock()
	}
	sortEntities(out)
	return out
}

// GetByLocation returns entities at loc.
func (s *Store) GetByLocation(loc string) []*model.Entity {
	return s.GetByIndex(model.LocationKey(loc))
}

// GetByAttribute returns entities annotated name=value.
func (s *Store) GetByAttribute(name, value string) []*model.Entity {
	return s.GetByIndex(model.AttributeKey(name, value))
}

// GetByProvider returns entities that provider reports on.
func (s *Store) GetByProvider(p model.ProviderID) []*model.Entity {
	return s.GetByIndex(model.ProviderKey(p))
}

// GetByAddress returns entities carrying addr.
func (s *Store) GetByAddress(addr string) []*model.Entity {
	return s.GetByIndex(model.AddressKey(addr))
}

// Fragment returns a copy of one provider's stored fragment.
func (s *Store) Fragment(fk model.FragmentKey) (*model.Fragment, bool) {
	sh := s.shardFor(fk.Key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.records[fk.Key]
	if !ok {
		return nil, false
	}
	f, ok := rec.fragments[fk.Provider]
	if !ok {
		return nil, false
	}
	return &model.Fragment{
		Key:         fk.Key,
		Provider:    fk.Provider,
		Description: f.desc.Clone(),
		Timestamp:   f.ts,
	}, true
}

// Tombstone returns the removal timestamp recorded for key.
func (s *Store) Tombstone(key model.EntityKey) (model.Timestamp, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	t, ok := sh.tombstones[key]
	return t.ts, ok
}

// Count returns the number of live entities.
func (s *Store) Count() int {
	return int(s.entities.Load())
}

// TombstoneCount returns the number of retained tombstones.
func (s *Store) TombstoneCount() int {
	return int(s.tombstones.Load())
}

func (s *Store) updateGauges() {
	s.metrics.UpdateTableStats(s.Count(), s.TombstoneCount())
}

func sortEntities(es []*model.Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].Key < es[j].Key })
}
