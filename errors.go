package repack

import (
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/runner"
)

// Errors re-exported from the job taxonomy.
var (
	// ErrUnsupportedFormat is returned for RAR v5 input or an unknown target format.
	ErrUnsupportedFormat = jobtype.ErrUnsupportedFormat

	// ErrEmptyArchive is returned when the input has no entries.
	ErrEmptyArchive = jobtype.ErrEmptyArchive

	// ErrExtractionFailed is returned when no engine could read the input.
	ErrExtractionFailed = jobtype.ErrExtractionFailed

	// ErrPackingFailed is returned when the output archive could not be written.
	ErrPackingFailed = jobtype.ErrPackingFailed

	// ErrPasswordRequired is returned for encrypted entries without a valid password.
	ErrPasswordRequired = jobtype.ErrPasswordRequired

	// ErrTimeout is returned when a job exceeds its watchdog.
	ErrTimeout = jobtype.ErrTimeout

	// ErrCanceled is returned when a job is cancelled.
	ErrCanceled = jobtype.ErrCanceled

	// ErrBusy is returned when a runner cannot accept another job.
	ErrBusy = jobtype.ErrBusy

	// ErrRunnerClosed is returned when submitting to a closed runner.
	ErrRunnerClosed = jobtype.ErrRunnerClosed

	// ErrEngineUnavailable is returned when a required engine, such as 7-Zip, is missing.
	ErrEngineUnavailable = jobtype.ErrEngineUnavailable

	// ErrInputTooLarge is returned when a request exceeds the input limit.
	ErrInputTooLarge = jobtype.ErrInputTooLarge

	// ErrOutputTooLarge is returned when the output exceeds the output limit.
	ErrOutputTooLarge = jobtype.ErrOutputTooLarge

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = jobtype.ErrSizeOverflow
)

// Errors re-exported from runner.
var (
	// ErrUnknownCommand is returned for requests whose command is not "convert".
	ErrUnknownCommand = runner.ErrUnknownCommand
)
