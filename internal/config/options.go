package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/meigma/repack/extract"
	"github.com/meigma/repack/pack"
	"github.com/meigma/repack/progress"
	"github.com/meigma/repack/runner"
	"github.com/meigma/repack/staging"
)

// Weights returns the configured progress boundaries.
func (c *Config) Weights() progress.Weights {
	return progress.Weights{
		Start:      c.Progress.Start,
		ExtractEnd: c.Progress.ExtractEnd,
		PackEnd:    c.Progress.PackEnd,
		Finalize:   c.Progress.Finalize,
	}
}

// RunnerOptions translates the configuration into runner options.
// The config must have passed Validate.
func (c *Config) RunnerOptions(logger *slog.Logger) []runner.Option {
	policy, _ := extract.ParsePolicy(c.Extract.Prefer) //nolint:errcheck // validated
	engine, _ := pack.ParseEngine(c.Pack.Engine)       //nolint:errcheck // validated

	return []runner.Option{
		runner.WithLogger(logger),
		runner.WithTimeout(c.Jobs.Timeout.Std()),
		runner.WithQueueDepth(c.Jobs.QueueDepth),
		runner.WithMaxInputBytes(c.Jobs.MaxInputBytes),
		runner.WithMaxOutputBytes(c.Jobs.MaxOutputBytes),
		runner.WithWeights(c.Weights()),
		runner.WithSevenZipPath(c.Pack.SevenZipPath),
		runner.WithStagingOptions(c.StagingOptions()...),
		runner.WithExtractOptions(
			extract.WithPolicy(policy),
			extract.WithMaxEntries(c.Extract.MaxEntries),
			extract.WithMaxTotalBytes(c.Extract.MaxTotalBytes),
		),
		runner.WithPackOptions(
			pack.WithEngine(engine),
			pack.WithThresholds(pack.Thresholds{
				Files: c.Pack.LargeFileCount,
				Bytes: c.Pack.LargeTotalBytes,
			}),
		),
	}
}

// StagingOptions translates the staging section.
func (c *Config) StagingOptions() []staging.Option {
	return []staging.Option{
		staging.WithDir(c.Staging.Dir),
		staging.WithPreferMemory(c.Staging.PreferMemory),
		staging.WithStaleAfter(c.Staging.StaleAfter.Std()),
	}
}

// ParseLevel converts a level name into a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
}
