package model

import "strings"

// IndexName names a secondary index.
type IndexName string

const (
	IndexLocation  IndexName = "location"
	IndexAttribute IndexName = "attribute"
	IndexProvider  IndexName = "provider"
	IndexAddress   IndexName = "address"
)

// IndexKey is a derived key in one secondary index.
type IndexKey struct {
	Index IndexName
	Value string
}

// LocationKey returns the location index key for loc.
func LocationKey(loc string) IndexKey {
	return IndexKey{Index: IndexLocation, Value: loc}
}

// AttributeKey returns the attribute index key for name=value.
func AttributeKey(name, value string) IndexKey {
	return IndexKey{Index: IndexAttribute, Value: name + "=" + value}
}

// ProviderKey returns the provider index key.
func ProviderKey(p ProviderID) IndexKey {
	return IndexKey{Index: IndexProvider, Value: string(p)}
}

// AddressKey returns the address index key.
func AddressKey(addr string) IndexKey {
	return IndexKey{Index: IndexAddress, Value: addr}
}

// ParseIndexKey parses "index:value" as produced by String.
func ParseIndexKey(s string) (IndexKey, bool) {
	name, value, ok := strings.Cut(s, ":")
	if !ok {
		return IndexKey{}, false
	}
	switch IndexName(name) {
	case IndexLocation, IndexAttribute, IndexProvider, IndexAddress:
		return IndexKey{Index: IndexName(name), Value: value}, true
	}
	return IndexKey{}, false
}

func (k IndexKey) String() string {
	return string(k.Index) + ":" + k.Value
}

// DerivedKeys returns every index key the entity currently belongs to.
func (e *Entity) DerivedKeys() []IndexKey {
	keys := make([]IndexKey, 0, 1+len(e.Providers)+len(e.Annotations)+len(e.Addresses))
	if e.Location != "" {
		keys = append(keys, LocationKey(e.Location))
	}
	for _, p := range e.Providers {
		keys = append(keys, ProviderKey(p))
	}
	for name, value := range e.Annotations {
		keys = append(keys, AttributeKey(name, value))
	}
	for _, addr := range e.Addresses {
		keys = append(keys, AddressKey(addr))
	}
	return keys
}
