package repack

import (
	"github.com/meigma/repack/format"
	"github.com/meigma/repack/runner"
	"github.com/meigma/repack/staging"
)

// Re-export format types.
type (
	// Format is a target archive container.
	Format = format.Format
)

// Target formats.
const (
	Zip      = format.Zip
	SevenZip = format.SevenZip
	Tar      = format.Tar
	TarGz    = format.TarGz
	TarBz2   = format.TarBz2
	TarXz    = format.TarXz
)

// ParseFormat parses a target format tag such as "tar.gz".
func ParseFormat(s string) (Format, error) {
	return format.Parse(s)
}

// Re-export runner types.
type (
	// Runner executes one job at a time.
	Runner = runner.Runner

	// Pool spreads jobs over several runners.
	Pool = runner.Pool

	// Job is a submitted conversion.
	Job = runner.Job

	// Request asks for a conversion.
	Request = runner.Request

	// Message is a progress, done or error notification.
	Message = runner.Message

	// Result is a finished conversion.
	Result = runner.Result

	// Option configures a Runner or Pool.
	Option = runner.Option
)

// Runner options.
var (
	WithTimeout        = runner.WithTimeout
	WithQueueDepth     = runner.WithQueueDepth
	WithMaxInputBytes  = runner.WithMaxInputBytes
	WithMaxOutputBytes = runner.WithMaxOutputBytes
	WithWeights        = runner.WithWeights
	WithStaging        = runner.WithStaging
	WithStagingOptions = runner.WithStagingOptions
	WithExtractOptions = runner.WithExtractOptions
	WithPackOptions    = runner.WithPackOptions
	WithSevenZipPath   = runner.WithSevenZipPath
	WithLogger         = runner.WithLogger
)

// NewRunner starts a runner.
func NewRunner(opts ...Option) (*Runner, error) {
	return runner.New(opts...)
}

// NewPool starts size runners sharing one staging filesystem.
func NewPool(size int, opts ...Option) (*Pool, error) {
	return runner.NewPool(size, opts...)
}

// DefaultStagingDir returns the default disk staging directory.
func DefaultStagingDir() string {
	return staging.DefaultDir()
}
