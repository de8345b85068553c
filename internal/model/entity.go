package model

import (
	"bytes"
	"sort"
	"strings"
)

// EntityKey identifies a logical entity (a host, a link, a tunnel).
type EntityKey string

// ProviderID identifies the source reporting facts about an entity.
type ProviderID string

// DefaultProvider is used when a store has a single source per entity.
const DefaultProvider ProviderID = "core"

// IsAncillary reports whether the provider only supplements a primary one.
// Ancillary provider ids carry a trailing '~'.
func (p ProviderID) IsAncillary() bool {
	return strings.HasSuffix(string(p), "~")
}

// FragmentKey addresses one provider's view of an entity.
type FragmentKey struct {
	Key      EntityKey  `json:"key" codec:"k"`
	Provider ProviderID `json:"provider" codec:"p"`
}

// Description is what a provider reports about an entity.
type Description struct {
	Location    string            `json:"location" codec:"loc"`
	Addresses   []string          `json:"addresses,omitempty" codec:"addr"`
	Annotations map[string]string `json:"annotations,omitempty" codec:"ann"`
	Payload     []byte            `json:"payload,omitempty" codec:"pl"`
}

// Normalize sorts and deduplicates addresses and drops empty maps so that
// equal descriptions compare equal regardless of how they were built.
func (d *Description) Normalize() *Description {
	if d == nil {
		return nil
	}
	d.Addresses = normalizeAddresses(d.Addresses)
	if len(d.Annotations) == 0 {
		d.Annotations = nil
	}
	if len(d.Payload) == 0 {
		d.Payload = nil
	}
	return d
}

// Clone returns a deep copy.
func (d *Description) Clone() *Description {
	if d == nil {
		return nil
	}
	c := &Description{Location: d.Location}
	if d.Addresses != nil {
		c.Addresses = append([]string(nil), d.Addresses...)
	}
	if d.Annotations != nil {
		c.Annotations = make(map[string]string, len(d.Annotations))
		for k, v := range d.Annotations {
			c.Annotations[k] = v
		}
	}
	if d.Payload != nil {
		c.Payload = append([]byte(nil), d.Payload...)
	}
	return c
}

// Equal compares normalized descriptions.
func (d *Description) Equal(other *Description) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.Location != other.Location || !bytes.Equal(d.Payload, other.Payload) {
		return false
	}
	if len(d.Addresses) != len(other.Addresses) || len(d.Annotations) != len(other.Annotations) {
		return false
	}
	for i := range d.Addresses {
		if d.Addresses[i] != other.Addresses[i] {
			return false
		}
	}
	for k, v := range d.Annotations {
		if ov, ok := other.Annotations[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// HasAddress reports whether addr is one of the description's addresses.
func (d *Description) HasAddress(addr string) bool {
	i := sort.SearchStrings(d.Addresses, addr)
	return i < len(d.Addresses) && d.Addresses[i] == addr
}

// Fragment is one provider's timestamped description of an entity.
type Fragment struct {
	Key         EntityKey
	Provider    ProviderID
	Description *Description
	Timestamp   Timestamp
}

// FragmentKey returns the fragment's compound key.
func (f *Fragment) FragmentKey() FragmentKey {
	return FragmentKey{Key: f.Key, Provider: f.Provider}
}

// Clone returns a deep copy.
func (f *Fragment) Clone() *Fragment {
	if f == nil {
		return nil
	}
	c := *f
	c.Description = f.Description.Clone()
	return &c
}

// Entity is the canonical value composed from all live fragments of a key.
type Entity struct {
	Key         EntityKey         `json:"key"`
	Provider    ProviderID        `json:"provider"`
	Providers   []ProviderID      `json:"providers"`
	Location    string            `json:"location"`
	Addresses   []string          `json:"addresses,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Payload     []byte            `json:"payload,omitempty"`
	Timestamp   Timestamp         `json:"timestamp"`
}

// Clone returns a deep copy.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Providers = append([]ProviderID(nil), e.Providers...)
	if e.Addresses != nil {
		c.Addresses = append([]string(nil), e.Addresses...)
	}
	if e.Annotations != nil {
		c.Annotations = make(map[string]string, len(e.Annotations))
		for k, v := range e.Annotations {
			c.Annotations[k] = v
		}
	}
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	return &c
}

// SameValue compares everything except the timestamp.
func (e *Entity) SameValue(other *Entity) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.Key != other.Key || e.Provider != other.Provider || len(e.Providers) != len(other.Providers) {
		return false
	}
	for i := range e.Providers {
		if e.Providers[i] != other.Providers[i] {
			return false
		}
	}
	a := &Description{Location: e.Location, Addresses: e.Addresses, Annotations: e.Annotations, Payload: e.Payload}
	b := &Description{Location: other.Location, Addresses: other.Addresses, Annotations: other.Annotations, Payload: other.Payload}
	return a.Equal(b)
}

// Attribute returns the annotation value for name.
func (e *Entity) Attribute(name string) (string, bool) {
	v, ok := e.Annotations[name]
	return v, ok
}

func normalizeAddresses(addrs []string) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := append([]string(nil), addrs...)
	sort.Strings(out)
	n := 0
	for i, a := range out {
		if a == "" || (i > 0 && a == out[i-1]) {
			continue
		}
		out[n] = a
		n++
	}
	if n == 0 {
		return nil
	}
	return out[:n]
}

// UnionAddresses returns the sorted union of two normalized address lists.
func UnionAddresses(a, b []string) []string {
	merged := make([]string, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return normalizeAddresses(merged)
}
