package config

import (
	"errors"
	"fmt"

	"github.com/meigma/repack/extract"
	"github.com/meigma/repack/pack"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateJobs(); err != nil {
		return err
	}
	if _, err := extract.ParsePolicy(c.Extract.Prefer); err != nil {
		return fmt.Errorf("extract.prefer: %w", err)
	}
	if c.Extract.MaxEntries < 0 || c.Extract.MaxTotalBytes < 0 {
		return errors.New("extract limits must not be negative")
	}
	if _, err := pack.ParseEngine(c.Pack.Engine); err != nil {
		return fmt.Errorf("pack.engine: %w", err)
	}
	if c.Pack.LargeFileCount < 0 || c.Pack.LargeTotalBytes < 0 {
		return errors.New("pack large thresholds must not be negative")
	}
	if err := c.Weights().Validate(); err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	if c.Staging.StaleAfter < 0 {
		return errors.New("staging.stale_after must not be negative")
	}
	if c.Serve.QueueWait < 0 {
		return errors.New("serve.queue_wait must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.Timeout < 0 {
		return errors.New("jobs.timeout must not be negative")
	}
	if c.Jobs.QueueDepth < 0 {
		return errors.New("jobs.queue_depth must not be negative")
	}
	if c.Jobs.PoolSize < 1 {
		return errors.New("jobs.pool_size must be at least 1")
	}
	if c.Jobs.MaxInputBytes < 0 || c.Jobs.MaxOutputBytes < 0 {
		return errors.New("jobs byte limits must not be negative")
	}
	return nil
}
