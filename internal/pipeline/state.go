package pipeline

// State is a step of the overlay pipeline state machine
type State int

const (
	StateAccepted State = iota
	StateFetching
	StateDetecting
	StateCompositing
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateAccepted:    "accepted",
	StateFetching:    "fetching",
	StateDetecting:   "detecting",
	StateCompositing: "compositing",
	StateDone:        "done",
	StateFailed:      "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// terminal reports whether no transition leaves s
func (s State) terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether the state machine allows from -> to.
// Failed is reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return to == from+1
}
