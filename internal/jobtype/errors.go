package jobtype

import (
	"context"
	"errors"
)

// Sentinel errors for conversion jobs.
var (
	// ErrUnsupportedFormat is returned for RAR5 input or an unknown target format.
	ErrUnsupportedFormat = errors.New("repack: unsupported format")

	// ErrEmptyArchive is returned when extraction staged no entries.
	ErrEmptyArchive = errors.New("repack: archive is empty")

	// ErrExtractionFailed is returned when every extraction engine failed.
	ErrExtractionFailed = errors.New("repack: extraction failed")

	// ErrPackingFailed is returned when the output archive could not be produced.
	ErrPackingFailed = errors.New("repack: packing failed")

	// ErrPasswordRequired is returned when an entry is encrypted and no
	// password, or a wrong one, was supplied.
	ErrPasswordRequired = errors.New("repack: archive is password protected")

	// ErrTimeout is the cancellation cause set by the job watchdog.
	ErrTimeout = errors.New("repack: job timed out")

	// ErrCanceled is the cancellation cause set by an explicit cancel.
	ErrCanceled = errors.New("repack: job canceled")

	// ErrBusy is returned when a runner already has a job in flight and its
	// queue is full.
	ErrBusy = errors.New("repack: runner busy")

	// ErrRunnerClosed is returned when submitting to a closed runner.
	ErrRunnerClosed = errors.New("repack: runner closed")

	// ErrEngineUnavailable is returned when a required backing engine is missing.
	ErrEngineUnavailable = errors.New("repack: engine unavailable")

	// ErrOutputTooLarge is returned when the finished archive exceeds the
	// configured output limit.
	ErrOutputTooLarge = errors.New("repack: output too large")

	// ErrInputTooLarge is returned when a request buffer exceeds the input limit.
	ErrInputTooLarge = errors.New("repack: input too large")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("repack: size overflow")
)

// Terminal maps an error to the terminal state a job ends in.
// A nil error maps to StateDone.
func Terminal(err error) State {
	switch {
	case err == nil:
		return StateDone
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return StateTimedOut
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return StateCancelled
	default:
		return StateFailed
	}
}
