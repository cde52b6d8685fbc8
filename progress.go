package repack

import (
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/progress"
)

// Re-export progress types.
type (
	// Weights places the extract and pack phases on the 0-1 progress scale.
	Weights = progress.Weights

	// State is a position in the job lifecycle.
	State = jobtype.State
)

// DefaultWeights gives extraction 2-60% and packing 60-98% of a job.
var DefaultWeights = progress.DefaultWeights

// Re-export job states.
const (
	StateIdle       = jobtype.StateIdle
	StateSniffing   = jobtype.StateSniffing
	StateExtracting = jobtype.StateExtracting
	StatePacking    = jobtype.StatePacking
	StateFinalizing = jobtype.StateFinalizing
	StateDone       = jobtype.StateDone
	StateFailed     = jobtype.StateFailed
	StateCancelled  = jobtype.StateCancelled
	StateTimedOut   = jobtype.StateTimedOut
)
