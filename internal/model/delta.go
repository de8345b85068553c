package model

// Outcome is the result of running a candidate through the merge engine.
type Outcome int

const (
	Rejected Outcome = iota
	AppliedNoop
	AppliedAdded
	AppliedUpdated
	AppliedMoved
	AppliedRemoved
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case AppliedNoop:
		return "noop"
	case AppliedAdded:
		return "added"
	case AppliedUpdated:
		return "updated"
	case AppliedMoved:
		return "moved"
	case AppliedRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Effective reports whether the outcome changed what readers observe.
func (o Outcome) Effective() bool {
	return o >= AppliedAdded
}

// Delta describes one merge decision. Subject is the entity after the
// change (before it, for removals); Previous is set for moves and updates.
type Delta struct {
	Outcome   Outcome
	Key       EntityKey
	Subject   *Entity
	Previous  *Entity
	Timestamp Timestamp
}

// Effective reports whether the delta should reach delegates.
func (d Delta) Effective() bool {
	return d.Outcome.Effective()
}
