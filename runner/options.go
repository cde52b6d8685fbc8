package runner

import (
	"log/slog"
	"time"

	"github.com/meigma/repack/extract"
	"github.com/meigma/repack/pack"
	"github.com/meigma/repack/progress"
	"github.com/meigma/repack/staging"
)

// DefaultTimeout is the per-job watchdog.
const DefaultTimeout = 120 * time.Second

type config struct {
	timeout      time.Duration
	queueDepth   int
	maxInput     int64
	maxOutput    int64
	weights      progress.Weights
	staging      *staging.Filesystem
	stagingOpts  []staging.Option
	extractOpts  []extract.Option
	packOpts     []pack.Option
	sevenZipPath string
	factory      EngineFactory
	logger       *slog.Logger
}

func defaultConfig() config {
	return config{
		timeout: DefaultTimeout,
		weights: progress.DefaultWeights,
	}
}

// Option configures a Runner or Pool.
type Option func(*config)

// WithTimeout sets the per-job watchdog. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithQueueDepth lets up to n jobs wait while one runs. With the default of
// zero a second concurrent Submit fails with ErrBusy.
func WithQueueDepth(n int) Option {
	return func(c *config) {
		c.queueDepth = max(n, 0)
	}
}

// WithMaxInputBytes rejects larger request buffers at Submit. Zero means
// unlimited.
func WithMaxInputBytes(n int64) Option {
	return func(c *config) {
		c.maxInput = n
	}
}

// WithMaxOutputBytes fails jobs whose archive is larger. Zero means unlimited.
func WithMaxOutputBytes(n int64) Option {
	return func(c *config) {
		c.maxOutput = n
	}
}

// WithWeights sets the progress phase boundaries.
func WithWeights(w progress.Weights) Option {
	return func(c *config) {
		c.weights = w
	}
}

// WithStaging shares an open staging filesystem. The runner does not close it.
func WithStaging(fs *staging.Filesystem) Option {
	return func(c *config) {
		c.staging = fs
	}
}

// WithStagingOptions configures the staging filesystem the runner opens
// when none is shared.
func WithStagingOptions(opts ...staging.Option) Option {
	return func(c *config) {
		c.stagingOpts = append(c.stagingOpts, opts...)
	}
}

// WithExtractOptions configures the extractor built by the default engine
// factory.
func WithExtractOptions(opts ...extract.Option) Option {
	return func(c *config) {
		c.extractOpts = append(c.extractOpts, opts...)
	}
}

// WithPackOptions configures the packing built by the default engine factory.
func WithPackOptions(opts ...pack.Option) Option {
	return func(c *config) {
		c.packOpts = append(c.packOpts, opts...)
	}
}

// WithSevenZipPath sets the 7-Zip executable. Empty searches PATH.
func WithSevenZipPath(path string) Option {
	return func(c *config) {
		c.sevenZipPath = path
	}
}

// WithEngineFactory replaces how backing engines are built.
func WithEngineFactory(f EngineFactory) Option {
	return func(c *config) {
		c.factory = f
	}
}

// WithLogger sets the logger for the runner and the engines it builds.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
