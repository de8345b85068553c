package store

import (
	"sort"
	"sync"
	"time"

	"github.com/opennetworkinglab/onos-sub118/internal/model"
)

// record is the stored state of one live entity. floor is the newest
// removal the entity has survived: no fragment at or below it may live.
type record struct {
	fragments map[model.ProviderID]*fragment
	current   *model.Entity
	floor     model.Timestamp
}

type fragment struct {
	desc *model.Description
	ts   model.Timestamp
}

type tombstone struct {
	ts      model.Timestamp
	removed time.Time
}

// shard owns a slice of the key space. The entity table, tombstone table
// and index rows for a key all live in the shard the key hashes to, so a
// single lock covers a mutation and its index maintenance.
type shard struct {
	mu         sync.RWMutex
	records    map[model.EntityKey]*record
	tombstones map[model.EntityKey]tombstone
	index      map[model.IndexKey]map[model.EntityKey]struct{}
}

func newShard() *shard {
	return &shard{
		records:    make(map[model.EntityKey]*record),
		tombstones: make(map[model.EntityKey]tombstone),
		index:      make(map[model.IndexKey]map[model.EntityKey]struct{}),
	}
}

// reindex moves key from prev's index rows to cur's. Either may be nil.
// Caller holds the write lock.
func (s *shard) reindex(key model.EntityKey, prev, cur *model.Entity) {
	if prev != nil {
		for _, ik := range prev.DerivedKeys() {
			if rows, ok := s.index[ik]; ok {
				delete(rows, key)
				if len(rows) == 0 {
					delete(s.index, ik)
				}
			}
		}
	}
	if cur != nil {
		for _, ik := range cur.DerivedKeys() {
			rows, ok := s.index[ik]
			if !ok {
				rows = make(map[model.EntityKey]struct{})
				s.index[ik] = rows
			}
			rows[key] = struct{}{}
		}
	}
}

// compose builds the canonical entity from the record's fragments. The
// base fragment is the smallest non-ancillary provider, falling back to
// the smallest ancillary one; it supplies location and payload and its
// annotations win over the others.
func compose(key model.EntityKey, frags map[model.ProviderID]*fragment) *model.Entity {
	providers := make([]model.ProviderID, 0, len(frags))
	for p := range frags {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	base := providers[0]
	for _, p := range providers {
		if !p.IsAncillary() {
			base = p
			break
		}
	}

	bf := frags[base]
	e := &model.Entity{
		Key:       key,
		Provider:  base,
		Providers: providers,
		Location:  bf.desc.Location,
		Payload:   append([]byte(nil), bf.desc.Payload...),
	}
	if len(e.Payload) == 0 {
		e.Payload = nil
	}

	var addrs []string
	var annotations map[string]string
	apply := func(d *model.Description) {
		addrs = model.UnionAddresses(addrs, d.Addresses)
		for k, v := range d.Annotations {
			if annotations == nil {
				annotations = make(map[string]string)
			}
			annotations[k] = v
		}
	}
	for _, p := range providers {
		f := frags[p]
		if p != base {
			apply(f.desc)
		}
		e.Timestamp = model.MaxTimestamp(e.Timestamp, f.ts)
	}
	apply(bf.desc)

	e.Addresses = addrs
	e.Annotations = annotations
	return e
}
