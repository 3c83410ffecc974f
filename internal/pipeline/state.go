package pipeline

// RunState is the sequencer-owned state of a run. Transitions are strictly
// forward along the stage order; Failed and Cancelled are reachable from any
// non-terminal state and absorbing.
type RunState string

const (
	StateInitializing      RunState = "initializing"
	StateRunningSetup      RunState = "running_setup"
	StateDiscoveringFanout RunState = "discovering_fanout"
	StateRunningFanout     RunState = "running_fanout"
	StateRunningCollect    RunState = "running_collect"
	StateCompleted         RunState = "completed"
	StateFailed            RunState = "failed"
	StateCancelled         RunState = "cancelled"
)

func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether current may move to next.
func CanTransition(current, next RunState) bool {
	if current.Terminal() {
		return false
	}
	if next == StateFailed || next == StateCancelled {
		return true
	}
	return runStateOrder(current) < runStateOrder(next)
}

func runStateOrder(state RunState) int {
	switch state {
	case StateInitializing:
		return 1
	case StateRunningSetup:
		return 2
	case StateDiscoveringFanout:
		return 3
	case StateRunningFanout:
		return 4
	case StateRunningCollect:
		return 5
	case StateCompleted:
		return 6
	default:
		return 0
	}
}
