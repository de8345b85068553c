package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestamp_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b Timestamp
		want int
	}{
		{"physical wins", Timestamp{Physical: 2}, Timestamp{Physical: 1, Logical: 9}, 1},
		{"logical breaks physical tie", Timestamp{Physical: 1, Logical: 1}, Timestamp{Physical: 1, Logical: 2}, -1},
		{"node breaks full tie", Timestamp{Physical: 1, Logical: 1, Node: "b"}, Timestamp{Physical: 1, Logical: 1, Node: "a"}, 1},
		{"equal", Timestamp{Physical: 1, Logical: 1, Node: "a"}, Timestamp{Physical: 1, Logical: 1, Node: "a"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
			assert.Equal(t, -tt.want, tt.b.Compare(tt.a))
			assert.Equal(t, tt.want > 0, tt.a.IsNewerThan(tt.b))
		})
	}
}

func TestMaxTimestamp(t *testing.T) {
	a := Timestamp{Physical: 5, Node: "a"}
	b := Timestamp{Physical: 5, Node: "b"}
	assert.Equal(t, b, MaxTimestamp(a, b))
	assert.Equal(t, b, MaxTimestamp(b, a))
	assert.True(t, Timestamp{}.IsZero())
}

func TestDescription_NormalizeAndEqual(t *testing.T) {
	a := (&Description{Location: "sw1/1", Addresses: []string{"10.0.0.2", "10.0.0.1", "10.0.0.2", ""}}).Normalize()
	b := (&Description{Location: "sw1/1", Addresses: []string{"10.0.0.1", "10.0.0.2"}, Annotations: map[string]string{}}).Normalize()

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, a.Addresses)
	assert.True(t, a.Equal(b))
	assert.True(t, a.HasAddress("10.0.0.2"))
	assert.False(t, a.HasAddress("10.0.0.3"))

	c := a.Clone()
	c.Addresses[0] = "changed"
	assert.Equal(t, "10.0.0.1", a.Addresses[0])
}

func TestParseIndexKey(t *testing.T) {
	k, ok := ParseIndexKey("attribute:vlan=10")
	assert.True(t, ok)
	assert.Equal(t, AttributeKey("vlan", "10"), k)
	assert.Equal(t, "attribute:vlan=10", k.String())

	_, ok = ParseIndexKey("bogus:value")
	assert.False(t, ok)
	_, ok = ParseIndexKey("novalue")
	assert.False(t, ok)
}
