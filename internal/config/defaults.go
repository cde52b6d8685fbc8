package config

import (
	"time"

	"github.com/meigma/repack/pack"
	"github.com/meigma/repack/progress"
	"github.com/meigma/repack/runner"
	"github.com/meigma/repack/staging"
)

// Defaults.
const (
	DefaultStaleAfter = Duration(24 * time.Hour)
	DefaultServeAddr  = "127.0.0.1:8417"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	w := progress.DefaultWeights
	return Config{
		Staging: Staging{
			Dir:        staging.DefaultDir(),
			StaleAfter: DefaultStaleAfter,
		},
		Jobs: Jobs{
			Timeout:  Duration(runner.DefaultTimeout),
			PoolSize: 1,
		},
		Extract: Extract{
			Prefer: "signature",
		},
		Pack: Pack{
			Engine:          "auto",
			LargeFileCount:  pack.DefaultThresholds.Files,
			LargeTotalBytes: pack.DefaultThresholds.Bytes,
		},
		Progress: Progress{
			Start:      w.Start,
			ExtractEnd: w.ExtractEnd,
			PackEnd:    w.PackEnd,
			Finalize:   w.Finalize,
		},
		Log: Logging{
			Level:  "info",
			Format: "text",
		},
		Serve: Serve{
			Addr: DefaultServeAddr,
		},
	}
}
