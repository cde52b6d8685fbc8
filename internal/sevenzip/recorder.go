package sevenzip

import (
	"context"
	"sync"
)

// Recorder is a Commander that records invocations instead of running them.
// Each call runs Hook, if set, so tests can create expected output files or
// return failures.
type Recorder struct {
	Hook func(ctx context.Context, inv Invocation) error

	mu    sync.Mutex
	calls []Invocation
}

// Run records inv and calls Hook.
func (r *Recorder) Run(ctx context.Context, inv Invocation) error {
	r.mu.Lock()
	r.calls = append(r.calls, Invocation{Args: append([]string(nil), inv.Args...), Dir: inv.Dir})
	r.mu.Unlock()
	if r.Hook != nil {
		return r.Hook(ctx, inv)
	}
	return nil
}

// Calls returns a copy of the recorded invocations.
func (r *Recorder) Calls() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invocation(nil), r.calls...)
}
