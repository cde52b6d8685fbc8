// Package progress composes per-phase progress into a single monotonic
// job-wide ratio.
package progress

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Phase identifies the stage of a job a local ratio belongs to.
type Phase uint8

// Job phases with allotted progress ranges.
const (
	// PhaseExtract covers populating the staging tree from the source archive.
	PhaseExtract Phase = iota

	// PhasePack covers producing the output archive from the staging tree.
	PhasePack
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseExtract:
		return "extract"
	case PhasePack:
		return "pack"
	default:
		return "unknown"
	}
}

// Func receives job-wide progress ratios in [0, 1].
// Implementations must be safe for concurrent calls.
type Func func(ratio float64)

// LocalFunc receives a phase-local ratio in [0, 1].
type LocalFunc func(ratio float64)

// Weights places the phase boundaries on the global [0, 1] scale.
type Weights struct {
	// Start is emitted when a job begins; extraction starts here.
	Start float64

	// ExtractEnd is where extraction ends and packing begins.
	ExtractEnd float64

	// PackEnd is where packing ends.
	PackEnd float64

	// Finalize is emitted while the output is read back into memory.
	Finalize float64
}

// DefaultWeights reserves 2% for setup, 58% for extraction, 38% for packing
// and the remainder for reading the output back.
var DefaultWeights = Weights{Start: 0.02, ExtractEnd: 0.60, PackEnd: 0.98, Finalize: 0.99}

// ErrInvalidWeights is returned when weights are not strictly ordered in (0, 1).
var ErrInvalidWeights = errors.New("progress: weights must satisfy 0 <= start < extract_end < pack_end <= finalize < 1")

// Validate checks that the boundaries are ordered and inside the unit range.
func (w Weights) Validate() error {
	if w.Start < 0 || w.Start >= w.ExtractEnd || w.ExtractEnd >= w.PackEnd || w.PackEnd > w.Finalize || w.Finalize >= 1 {
		return fmt.Errorf("%w: got %+v", ErrInvalidWeights, w)
	}
	return nil
}

// span returns the global range allotted to a phase.
func (w Weights) span(p Phase) (lo, hi float64) {
	switch p {
	case PhaseExtract:
		return w.Start, w.ExtractEnd
	case PhasePack:
		return w.ExtractEnd, w.PackEnd
	default:
		return w.Start, w.Start
	}
}

// Aggregator maps phase-local ratios onto the global scale and guarantees
// the emitted sequence never decreases within a job.
//
// Aggregator is safe for concurrent use.
type Aggregator struct {
	weights Weights
	sink    Func

	mu   sync.Mutex
	last float64
}

// NewAggregator returns an aggregator that forwards every accepted value to
// sink. A nil sink is allowed; Compose still tracks the ratio.
func NewAggregator(w Weights, sink Func) *Aggregator {
	return &Aggregator{weights: w, sink: sink}
}

// Compose converts a phase-local ratio into a global ratio and emits it.
// Values below the last emitted ratio are clamped to it.
func (a *Aggregator) Compose(p Phase, local float64) float64 {
	lo, hi := a.weights.span(p)
	return a.emit(lo + clamp01(local)*(hi-lo))
}

// Reporter returns a LocalFunc bound to phase p.
func (a *Aggregator) Reporter(p Phase) LocalFunc {
	return func(local float64) {
		a.Compose(p, local)
	}
}

// Begin emits the job start ratio.
func (a *Aggregator) Begin() float64 {
	return a.emit(a.weights.Start)
}

// Finalize emits the ratio used while reading the output back.
func (a *Aggregator) Finalize() float64 {
	return a.emit(a.weights.Finalize)
}

// Done emits 1.0.
func (a *Aggregator) Done() float64 {
	return a.emit(1)
}

// Last returns the most recently emitted ratio.
func (a *Aggregator) Last() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Reset re-zeroes the aggregator for the next job.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.last = 0
	a.mu.Unlock()
}

func (a *Aggregator) emit(v float64) float64 {
	a.mu.Lock()
	if v < a.last {
		v = a.last
	}
	a.last = v
	sink := a.sink
	// The sink runs under the lock so concurrent callers observe emitted
	// values in order.
	if sink != nil {
		sink(v)
	}
	a.mu.Unlock()
	return v
}

// Percent converts a ratio into an integer percentage clamped to 0..100.
func Percent(ratio float64) int {
	return int(math.Round(clamp01(ratio) * 100))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
