package resource

import "fmt"

// State is a resource's lifecycle state. States are ordered: everything at
// or after ReadyForLayout has been measured and displayed at least once.
type State int

const (
	// NotBuilt: the node has not been built yet.
	NotBuilt State = iota
	// NotLaidOut: built, but not measured into a layout-ready position.
	NotLaidOut
	// ReadyForLayout: measured and waiting for a layout task.
	ReadyForLayout
	// LayoutScheduled: a layout task is queued or executing.
	LayoutScheduled
	// LayoutComplete: the last layout succeeded.
	LayoutComplete
	// LayoutFailed: the last layout failed; the error is retained.
	LayoutFailed
)

var stateNames = [...]string{
	NotBuilt:        "NOT_BUILT",
	NotLaidOut:      "NOT_LAID_OUT",
	ReadyForLayout:  "READY_FOR_LAYOUT",
	LayoutScheduled: "LAYOUT_SCHEDULED",
	LayoutComplete:  "LAYOUT_COMPLETE",
	LayoutFailed:    "LAYOUT_FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState is the inverse of String.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}
