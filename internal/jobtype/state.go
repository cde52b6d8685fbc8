package jobtype

// State is a position in the job lifecycle.
type State uint8

// Job states. Idle is the only state that accepts a new job.
const (
	StateIdle State = iota
	StateSniffing
	StateExtracting
	StatePacking
	StateFinalizing
	StateDone
	StateFailed
	StateCancelled
	StateTimedOut
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSniffing:
		return "sniffing"
	case StateExtracting:
		return "extracting"
	case StatePacking:
		return "packing"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s ends a job.
func (s State) IsTerminal() bool {
	return s >= StateDone
}
