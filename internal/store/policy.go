package store

import "github.com/opennetworkinglab/onos-sub118/internal/model"

// MergePolicy decides how a fragment's stored description absorbs a
// candidate. Descriptions passed in are normalized and must not be
// mutated; implementations return fresh values.
type MergePolicy interface {
	// MergeNewer combines stored with a candidate carrying a newer
	// timestamp. The result is what gets stored.
	MergeNewer(stored, candidate *model.Description) *model.Description

	// MergeOlder folds the non-authoritative parts of an older candidate
	// into stored. It reports false when the candidate adds nothing.
	MergeOlder(stored, candidate *model.Description) (*model.Description, bool)
}

// UnionPolicy accumulates addresses and annotations across updates.
// Location and payload are authoritative and only follow newer writes.
type UnionPolicy struct{}

// MergeNewer implements MergePolicy.
func (UnionPolicy) MergeNewer(stored, candidate *model.Description) *model.Description {
	merged := candidate.Clone()
	merged.Addresses = model.UnionAddresses(stored.Addresses, candidate.Addresses)
	if len(stored.Annotations) > 0 {
		annotations := make(map[string]string, len(stored.Annotations)+len(candidate.Annotations))
		for k, v := range stored.Annotations {
			annotations[k] = v
		}
		for k, v := range candidate.Annotations {
			annotations[k] = v
		}
		merged.Annotations = annotations
	}
	return merged.Normalize()
}

// MergeOlder implements MergePolicy.
func (UnionPolicy) MergeOlder(stored, candidate *model.Description) (*model.Description, bool) {
	added := false
	merged := stored.Clone()
	for _, addr := range candidate.Addresses {
		if !stored.HasAddress(addr) {
			added = true
			break
		}
	}
	if added {
		merged.Addresses = model.UnionAddresses(stored.Addresses, candidate.Addresses)
	}
	for k, v := range candidate.Annotations {
		if _, ok := stored.Annotations[k]; ok {
			continue
		}
		if merged.Annotations == nil {
			merged.Annotations = make(map[string]string)
		}
		merged.Annotations[k] = v
		added = true
	}
	if !added {
		return stored, false
	}
	return merged.Normalize(), true
}

// ReplacePolicy is plain last-writer-wins: newer replaces, older is stale.
type ReplacePolicy struct{}

// MergeNewer implements MergePolicy.
func (ReplacePolicy) MergeNewer(_, candidate *model.Description) *model.Description {
	return candidate.Clone()
}

// MergeOlder implements MergePolicy.
func (ReplacePolicy) MergeOlder(stored, _ *model.Description) (*model.Description, bool) {
	return stored, false
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (MergePolicy, bool) {
	switch name {
	case "", "union":
		return UnionPolicy{}, true
	case "replace":
		return ReplacePolicy{}, true
	}
	return nil, false
}
