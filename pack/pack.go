// Package pack produces an output archive from a staged directory.
//
// Packing chooses compression parameters from the staged tree's size (see
// Select) and hands the work to a Packer: NativePacker writes every format
// except 7z in process, SevenZipPacker drives the 7-Zip program. TAR
// variants are always built in two steps, an uncompressed TAR first and then
// a single compression pass over it.
package pack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/meigma/repack/format"
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/progress"
	"github.com/meigma/repack/staging"
)

// OutputBase is the file name, without extension, of every packed archive.
const OutputBase = "archive"

// OutputName returns the name of the archive produced for f.
func OutputName(f format.Format) string {
	return OutputBase + f.Extension()
}

// tarStepName is the intermediate TAR written by two-step packing.
const tarStepName = OutputBase + ".tar"

// Input describes one packing run.
type Input struct {
	// Src holds the staged entries.
	Src *staging.Tree

	// Out receives the archive. It must not be inside Src.
	Out *staging.Tree

	Format format.Format
	Params Params
	Stats  staging.Stats

	// Password encrypts 7z output, including headers. Other formats ignore it.
	Password string
}

// Packer writes Input.Src as an archive into Input.Out and returns the
// output name relative to Out.
type Packer interface {
	Name() string
	Pack(ctx context.Context, in Input, report progress.LocalFunc) (string, error)
}

// Engine selects which Packer a Packing uses.
type Engine uint8

const (
	// EngineAuto uses 7-Zip for 7z output and the native packer otherwise.
	EngineAuto Engine = iota

	// EngineNative always uses the native packer.
	EngineNative

	// EngineSevenZip always uses 7-Zip.
	EngineSevenZip
)

// ParseEngine parses "auto", "native" or "7zip".
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EngineAuto, nil
	case "native":
		return EngineNative, nil
	case "7zip", "7z", "sevenzip":
		return EngineSevenZip, nil
	default:
		return EngineAuto, fmt.Errorf("pack: unknown engine %q", s)
	}
}

// String returns the string representation of the engine.
func (e Engine) String() string {
	switch e {
	case EngineAuto:
		return "auto"
	case EngineNative:
		return "native"
	case EngineSevenZip:
		return "7zip"
	default:
		return "unknown"
	}
}

// Result describes a finished packing run.
type Result struct {
	// Name is the archive file name inside the output tree.
	Name   string
	Packer string
	Format format.Format
	Params Params
	Large  bool
	Stats  staging.Stats
}

// Packing classifies a staged tree, selects parameters and runs a Packer.
type Packing struct {
	native     Packer
	sevenZip   Packer
	engine     Engine
	thresholds Thresholds
	logger     *slog.Logger
}

// Option configures a Packing.
type Option func(*Packing)

// WithEngine sets the packer selection. Default: EngineAuto.
func WithEngine(e Engine) Option {
	return func(p *Packing) {
		p.engine = e
	}
}

// WithSevenZip sets the 7-Zip packer. Without one, 7z output fails with
// ErrEngineUnavailable.
func WithSevenZip(pk Packer) Option {
	return func(p *Packing) {
		p.sevenZip = pk
	}
}

// WithNative replaces the native packer.
func WithNative(pk Packer) Option {
	return func(p *Packing) {
		p.native = pk
	}
}

// WithThresholds sets the large-tree thresholds.
func WithThresholds(th Thresholds) Option {
	return func(p *Packing) {
		p.thresholds = th
	}
}

// WithLogger sets the logger for packing.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Packing) {
		p.logger = logger
	}
}

// New returns a Packing with a NativePacker and DefaultThresholds.
func New(opts ...Option) *Packing {
	p := &Packing{thresholds: DefaultThresholds}
	for _, opt := range opts {
		opt(p)
	}
	if p.native == nil {
		p.native = &NativePacker{}
	}
	return p
}

func (p *Packing) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Pack walks src, then writes an archive of format f into out.
// Failures other than cancellation wrap ErrPackingFailed.
func (p *Packing) Pack(ctx context.Context, src, out *staging.Tree, f format.Format, password string, report progress.LocalFunc) (Result, error) {
	if !f.Valid() {
		return Result{}, fmt.Errorf("%w: cannot pack %s", jobtype.ErrUnsupportedFormat, f)
	}
	if report == nil {
		report = func(float64) {}
	}

	st, err := src.Stats("")
	if err != nil {
		return Result{}, fmt.Errorf("%w: stat staged tree: %w", jobtype.ErrPackingFailed, err)
	}
	large := Classify(st, p.thresholds)
	params := Select(f, large)

	pk, err := p.choose(f)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", jobtype.ErrPackingFailed, err)
	}

	res := Result{Packer: pk.Name(), Format: f, Params: params, Large: large, Stats: st}
	p.log().Info("packing",
		"format", f.String(),
		"packer", pk.Name(),
		"files", st.Files,
		"size", humanize.IBytes(uint64(st.Bytes)), //nolint:gosec // sizes are never negative
		"large", large,
		"params", params.String())

	start := time.Now()
	name, err := pk.Pack(ctx, Input{Src: src, Out: out, Format: f, Params: params, Stats: st, Password: password}, report)
	if err != nil {
		if ctx.Err() != nil {
			return res, context.Cause(ctx)
		}
		if errors.Is(err, jobtype.ErrPackingFailed) {
			return res, err
		}
		return res, fmt.Errorf("%w: %s: %w", jobtype.ErrPackingFailed, pk.Name(), err)
	}

	info, err := out.Stat(name)
	if err != nil || !info.Mode().IsRegular() {
		return res, fmt.Errorf("%w: output file %s not found", jobtype.ErrPackingFailed, name)
	}
	res.Name = name
	report(1)
	p.log().Debug("packed",
		"name", name,
		"size", humanize.IBytes(uint64(info.Size())), //nolint:gosec // sizes are never negative
		"duration", time.Since(start))
	return res, nil
}

func (p *Packing) choose(f format.Format) (Packer, error) {
	useSevenZip := false
	switch p.engine {
	case EngineSevenZip:
		useSevenZip = true
	case EngineNative:
	case EngineAuto:
		useSevenZip = f == format.SevenZip
	}
	if !useSevenZip {
		return p.native, nil
	}
	if p.sevenZip == nil {
		return nil, fmt.Errorf("%w: 7-zip is required for %s output", jobtype.ErrEngineUnavailable, f)
	}
	return p.sevenZip, nil
}
