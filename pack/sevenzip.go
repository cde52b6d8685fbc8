package pack

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/meigma/repack/format"
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/internal/sevenzip"
	"github.com/meigma/repack/progress"
)

// SevenZipPacker drives the 7-Zip program. It needs disk-backed staging:
// 7-Zip runs with the staged root as its working directory and packs ".",
// so names with spaces or shell metacharacters never need quoting.
//
// A 7z password is passed to 7-Zip as a -p switch. Logged argument lists are
// redacted, but the switch is visible to other local users through the
// process table for as long as 7-Zip runs.
type SevenZipPacker struct {
	cmd    sevenzip.Commander
	logger *slog.Logger
}

// NewSevenZipPacker returns a packer that runs invocations through cmd.
func NewSevenZipPacker(cmd sevenzip.Commander, logger *slog.Logger) *SevenZipPacker {
	return &SevenZipPacker{cmd: cmd, logger: logger}
}

func (s *SevenZipPacker) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Name implements Packer.
func (*SevenZipPacker) Name() string {
	return "7zip"
}

// Pack implements Packer.
func (s *SevenZipPacker) Pack(ctx context.Context, in Input, report progress.LocalFunc) (string, error) {
	srcDir, ok := in.Src.LocalDir()
	if !ok {
		return "", fmt.Errorf("%w: 7-zip needs disk staging, have %s", jobtype.ErrEngineUnavailable, in.Src.Backend())
	}
	outDir, ok := in.Out.LocalDir()
	if !ok {
		return "", fmt.Errorf("%w: 7-zip needs disk staging, have %s", jobtype.ErrEngineUnavailable, in.Out.Backend())
	}

	name := OutputName(in.Format)
	final := filepath.Join(outDir, name)
	switch in.Format {
	case format.Zip:
		return name, s.run(ctx, srcDir, report, "a", "-tzip", final, ".", in.Params.Args(in.Format))
	case format.SevenZip:
		extra := in.Params.Args(in.Format)
		if in.Password != "" {
			extra = append(extra, "-p"+in.Password, "-mhe=on")
		}
		return name, s.run(ctx, srcDir, report, "a", "-t7z", final, ".", extra)
	case format.Tar:
		return name, s.run(ctx, srcDir, report, "a", "-ttar", final, ".", nil)
	case format.TarGz, format.TarBz2, format.TarXz:
		tarPath := filepath.Join(outDir, tarStepName)
		if err := s.run(ctx, srcDir, scale(report, 0, 0.5), "a", "-ttar", tarPath, ".", nil); err != nil {
			return "", err
		}
		kind := "-t" + in.Format.Filter().String()
		err := s.run(ctx, srcDir, scale(report, 0.5, 1), "a", kind, final, tarPath, in.Params.Args(in.Format))
		if rmErr := in.Out.Remove(tarStepName); rmErr != nil {
			s.log().Warn("failed to remove intermediate tar", "path", tarPath, "error", rmErr)
		}
		return name, err
	case format.Invalid:
		return "", fmt.Errorf("%w: %s", jobtype.ErrUnsupportedFormat, in.Format)
	default:
		return "", fmt.Errorf("%w: %s", jobtype.ErrUnsupportedFormat, in.Format)
	}
}

// run executes "<cmd> <kind> <archive> <input> <extra...> -y -bsp1" in dir.
func (s *SevenZipPacker) run(ctx context.Context, dir string, report progress.LocalFunc, cmd, kind, archive, input string, extra []string) error {
	args := make([]string, 0, len(extra)+6)
	args = append(args, cmd, kind, archive, input)
	args = append(args, extra...)
	args = append(args, "-y", "-bsp1")

	err := s.cmd.Run(ctx, sevenzip.Invocation{
		Args: args,
		Dir:  dir,
		OnPercent: func(p int) {
			report(float64(p) / 100)
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", jobtype.ErrPackingFailed, err)
	}
	return nil
}
