// Package wire defines the peer message shapes and their encoding.
package wire

import (
	"sort"

	"github.com/opennetworkinglab/onos-sub118/internal/model"
	"github.com/opennetworkinglab/onos-sub118/internal/store"
)

// Kind tags a message on the wire.
type Kind byte

const (
	KindEntityChanged Kind = 1
	KindEntityRemoved Kind = 2
	KindDigest        Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindEntityChanged:
		return "entity_changed"
	case KindEntityRemoved:
		return "entity_removed"
	case KindDigest:
		return "digest"
	default:
		return "unknown"
	}
}

// Message is one of *EntityChanged, *EntityRemoved or *AntiEntropyDigest.
type Message interface {
	Kind() Kind
	Sender() string
}

// EntityChanged carries one provider's fragment of an entity.
type EntityChanged struct {
	SenderID  string             `json:"sender_id" codec:"s"`
	Key       model.EntityKey    `json:"key" codec:"k"`
	Provider  model.ProviderID   `json:"provider" codec:"p"`
	Value     *model.Description `json:"value" codec:"v"`
	Timestamp model.Timestamp    `json:"timestamp" codec:"t"`
}

// Kind implements Message.
func (*EntityChanged) Kind() Kind { return KindEntityChanged }

// Sender implements Message.
func (m *EntityChanged) Sender() string { return m.SenderID }

// Fragment returns the carried fragment.
func (m *EntityChanged) Fragment() *model.Fragment {
	return &model.Fragment{Key: m.Key, Provider: m.Provider, Description: m.Value, Timestamp: m.Timestamp}
}

// NewEntityChanged builds the message announcing f.
func NewEntityChanged(sender string, f *model.Fragment) *EntityChanged {
	return &EntityChanged{
		SenderID:  sender,
		Key:       f.Key,
		Provider:  f.Provider,
		Value:     f.Description,
		Timestamp: f.Timestamp,
	}
}

// EntityRemoved announces a removal.
type EntityRemoved struct {
	SenderID  string          `json:"sender_id" codec:"s"`
	Key       model.EntityKey `json:"key" codec:"k"`
	Timestamp model.Timestamp `json:"timestamp" codec:"t"`
}

// Kind implements Message.
func (*EntityRemoved) Kind() Kind { return KindEntityRemoved }

// Sender implements Message.
func (m *EntityRemoved) Sender() string { return m.SenderID }

// LiveEntry is one live fragment's digest row.
type LiveEntry struct {
	Key       model.EntityKey  `json:"key" codec:"k"`
	Provider  model.ProviderID `json:"provider" codec:"p"`
	Timestamp model.Timestamp  `json:"timestamp" codec:"t"`
}

// TombstoneEntry is one removed key's digest row.
type TombstoneEntry struct {
	Key       model.EntityKey `json:"key" codec:"k"`
	Timestamp model.Timestamp `json:"timestamp" codec:"t"`
}

// AntiEntropyDigest summarizes a node's timestamps. Maps are flattened
// into sorted rows because fragment keys are compound. A reactive digest
// answers another digest and is never itself answered with one.
type AntiEntropyDigest struct {
	SenderID   string           `json:"sender_id" codec:"s"`
	RoundID    string           `json:"round_id,omitempty" codec:"r"`
	Reactive   bool             `json:"reactive,omitempty" codec:"x"`
	Live       []LiveEntry      `json:"live" codec:"l"`
	Tombstones []TombstoneEntry `json:"tombstones" codec:"d"`
}

// Kind implements Message.
func (*AntiEntropyDigest) Kind() Kind { return KindDigest }

// Sender implements Message.
func (m *AntiEntropyDigest) Sender() string { return m.SenderID }

// NewDigest flattens a store digest.
func NewDigest(sender, roundID string, d *store.Digest) *AntiEntropyDigest {
	msg := &AntiEntropyDigest{
		SenderID:   sender,
		RoundID:    roundID,
		Live:       make([]LiveEntry, 0, len(d.Live)),
		Tombstones: make([]TombstoneEntry, 0, len(d.Tombstones)),
	}
	for fk, ts := range d.Live {
		msg.Live = append(msg.Live, LiveEntry{Key: fk.Key, Provider: fk.Provider, Timestamp: ts})
	}
	for key, ts := range d.Tombstones {
		msg.Tombstones = append(msg.Tombstones, TombstoneEntry{Key: key, Timestamp: ts})
	}
	sort.Slice(msg.Live, func(i, j int) bool {
		if msg.Live[i].Key != msg.Live[j].Key {
			return msg.Live[i].Key < msg.Live[j].Key
		}
		return msg.Live[i].Provider < msg.Live[j].Provider
	})
	sort.Slice(msg.Tombstones, func(i, j int) bool { return msg.Tombstones[i].Key < msg.Tombstones[j].Key })
	return msg
}

// Snapshot rebuilds the map form. Duplicate rows keep the newest stamp.
func (m *AntiEntropyDigest) Snapshot() *store.Digest {
	d := &store.Digest{
		Live:       make(map[model.FragmentKey]model.Timestamp, len(m.Live)),
		Tombstones: make(map[model.EntityKey]model.Timestamp, len(m.Tombstones)),
	}
	for _, e := range m.Live {
		fk := model.FragmentKey{Key: e.Key, Provider: e.Provider}
		d.Live[fk] = model.MaxTimestamp(d.Live[fk], e.Timestamp)
	}
	for _, e := range m.Tombstones {
		d.Tombstones[e.Key] = model.MaxTimestamp(d.Tombstones[e.Key], e.Timestamp)
	}
	return d
}
