package model

import (
	"fmt"
	"strings"
)

// Timestamp is a logical timestamp. Ordering is lexicographic over
// (Physical, Logical, Node), so two timestamps issued by different nodes
// never compare equal.
type Timestamp struct {
	Physical int64  `json:"physical" yaml:"physical" codec:"p"`
	Logical  uint64 `json:"logical" yaml:"logical" codec:"l"`
	Node     string `json:"node" yaml:"node" codec:"n"`
}

// Compare returns -1, 0 or 1.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Physical < other.Physical:
		return -1
	case t.Physical > other.Physical:
		return 1
	case t.Logical < other.Logical:
		return -1
	case t.Logical > other.Logical:
		return 1
	}
	return strings.Compare(t.Node, other.Node)
}

// IsNewerThan reports whether t is strictly after other.
func (t Timestamp) IsNewerThan(other Timestamp) bool {
	return t.Compare(other) > 0
}

// IsZero reports whether t was never set.
func (t Timestamp) IsZero() bool {
	return t.Physical == 0 && t.Logical == 0 && t.Node == ""
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%s", t.Physical, t.Logical, t.Node)
}

// MaxTimestamp returns the later of a and b.
func MaxTimestamp(a, b Timestamp) Timestamp {
	if b.IsNewerThan(a) {
		return b
	}
	return a
}
