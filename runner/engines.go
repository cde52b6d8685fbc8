package runner

import (
	"log/slog"

	"github.com/meigma/repack/extract"
	"github.com/meigma/repack/internal/sevenzip"
	"github.com/meigma/repack/pack"
)

// Engines is the backing engine set shared by consecutive jobs.
type Engines struct {
	Extractor *extract.Extractor
	Packing   *pack.Packing
}

// EngineFactory builds an Engines value. It runs on first use and again
// after a job left the previous value unusable.
type EngineFactory func() (*Engines, error)

func defaultFactory(cfg *config, logger *slog.Logger) EngineFactory {
	return func() (*Engines, error) {
		xopts := append([]extract.Option{extract.WithLogger(logger)}, cfg.extractOpts...)
		popts := []pack.Option{pack.WithLogger(logger)}

		candidates := sevenzip.DefaultCandidates
		if cfg.sevenZipPath != "" {
			candidates = []string{cfg.sevenZipPath}
		}
		if bin, err := sevenzip.Locate(candidates...); err == nil {
			popts = append(popts, pack.WithSevenZip(pack.NewSevenZipPacker(sevenzip.NewExec(bin, logger), logger)))
			logger.Debug("7-zip available", "path", bin)
		} else {
			logger.Debug("7-zip unavailable, 7z output disabled", "error", err)
		}
		popts = append(popts, cfg.packOpts...)

		return &Engines{
			Extractor: extract.New(xopts...),
			Packing:   pack.New(popts...),
		}, nil
	}
}
