package pipeline

// State is a step of one ProcessDocument run.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSingleShot
	StateSplitting
	StateRecognizing
	StateFetchingAssets
	StateMerging
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSingleShot:
		return "single_shot"
	case StateSplitting:
		return "splitting"
	case StateRecognizing:
		return "recognizing"
	case StateFetchingAssets:
		return "fetching_assets"
	case StateMerging:
		return "merging"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Transition is passed to the state observer. Part is 1-based and only set
// while recognizing or fetching assets.
type Transition struct {
	RunID string
	State State
	Part  int
	Parts int
}
