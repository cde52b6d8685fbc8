// Package engine manages lazily created backing-engine state that outlives
// individual jobs.
package engine

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("engine: handle closed")

// Factory creates the engine value. It is called on first Acquire and again
// after the value has been invalidated.
type Factory[T any] func() (T, error)

// Teardown releases an engine value that is being discarded.
type Teardown[T any] func(T) error

// Handle is a lazily-initialized, reference-counted engine value.
//
// The value is created on first use and reused across jobs. Invalidate marks
// it unusable; it is torn down once the last reference is released and a
// fresh value is created on the next Acquire.
//
// Handle is safe for concurrent use.
type Handle[T any] struct {
	factory  Factory[T]
	teardown Teardown[T]

	mu          sync.Mutex
	value       T
	ready       bool
	refs        int
	invalidated bool
	closed      bool
	generation  uint64
}

// NewHandle returns a handle that builds values with factory.
// teardown may be nil.
func NewHandle[T any](factory Factory[T], teardown Teardown[T]) *Handle[T] {
	return &Handle[T]{factory: factory, teardown: teardown}
}

// Lease is a single reference to an engine value.
type Lease[T any] struct {
	h          *Handle[T]
	value      T
	generation uint64
	once       sync.Once
}

// Value returns the leased engine value.
func (l *Lease[T]) Value() T {
	return l.value
}

// Generation identifies which incarnation of the engine value is leased.
// It increases every time the value is recreated.
func (l *Lease[T]) Generation() uint64 {
	return l.generation
}

// Release drops the reference. It is safe to call more than once.
func (l *Lease[T]) Release() error {
	var err error
	l.once.Do(func() {
		err = l.h.release(l.generation)
	})
	return err
}

// Invalidate marks the leased value as unusable and drops the reference.
// The value is torn down once every other lease is released.
func (l *Lease[T]) Invalidate() error {
	l.h.mu.Lock()
	if l.h.ready && l.h.generation == l.generation {
		l.h.invalidated = true
	}
	l.h.mu.Unlock()
	return l.Release()
}

// Acquire returns a lease on the engine value, creating it if needed.
func (h *Handle[T]) Acquire() (*Lease[T], error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if !h.ready || h.invalidated {
		if h.ready && h.refs > 0 {
			// An invalidated value still has holders; hand out a new one
			// only after they let go.
			return nil, errors.New("engine: value invalidated while in use")
		}
		v, err := h.factory()
		if err != nil {
			return nil, err
		}
		h.value = v
		h.ready = true
		h.invalidated = false
		h.generation++
	}
	h.refs++
	return &Lease[T]{h: h, value: h.value, generation: h.generation}, nil
}

// Refs returns the number of outstanding leases.
func (h *Handle[T]) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// Generation returns the current value generation; zero means never created.
func (h *Handle[T]) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation
}

// Close tears down the current value once unreferenced and rejects further
// Acquire calls.
func (h *Handle[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.refs > 0 {
		h.invalidated = true
		return nil
	}
	return h.teardownLocked()
}

func (h *Handle[T]) release(generation uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if generation != h.generation || h.refs == 0 {
		return nil
	}
	h.refs--
	if h.refs == 0 && (h.invalidated || h.closed) {
		return h.teardownLocked()
	}
	return nil
}

func (h *Handle[T]) teardownLocked() error {
	if !h.ready {
		return nil
	}
	v := h.value
	var zero T
	h.value = zero
	h.ready = false
	h.invalidated = false
	if h.teardown != nil {
		return h.teardown(v)
	}
	return nil
}
