package config

import (
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	dir, err := expandPath(strings.TrimSpace(c.Staging.Dir))
	if err != nil {
		return err
	}
	c.Staging.Dir = dir

	// Bare executable names are resolved on PATH later.
	c.Pack.SevenZipPath = strings.TrimSpace(c.Pack.SevenZipPath)
	if strings.ContainsRune(c.Pack.SevenZipPath, filepath.Separator) {
		if c.Pack.SevenZipPath, err = expandPath(c.Pack.SevenZipPath); err != nil {
			return err
		}
	}

	c.Extract.Prefer = strings.ToLower(strings.TrimSpace(c.Extract.Prefer))
	c.Pack.Engine = strings.ToLower(strings.TrimSpace(c.Pack.Engine))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Serve.Addr = strings.TrimSpace(c.Serve.Addr)
	if c.Jobs.PoolSize == 0 {
		c.Jobs.PoolSize = 1
	}
	return nil
}
