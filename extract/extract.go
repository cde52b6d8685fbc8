// Package extract populates a staging tree from an archive buffer.
//
// Two engines are available: ArchiverEngine, a random-access reader for
// ZIP, 7z, RAR4 and the TAR family, and StreamEngine, a streaming
// multi-format reader. An Extractor runs the preferred engine for the
// input's signature and falls back to the other one exactly once.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/meigma/repack/internal/file"
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/internal/pathutil"
	"github.com/meigma/repack/internal/sizing"
	"github.com/meigma/repack/internal/sniff"
	"github.com/meigma/repack/progress"
)

var (
	// ErrUnrecognized is returned by an engine that cannot read the input.
	ErrUnrecognized = errors.New("extract: unrecognized archive")

	// ErrLimitExceeded is returned when an archive exceeds the configured
	// entry count or total size. It is never retried on another engine.
	ErrLimitExceeded = errors.New("extract: archive exceeds limits")
)

// Source is the archive handed to an engine.
type Source struct {
	// Data is the whole archive. Engines must not modify it.
	Data []byte

	// Signature is the sniffed container type.
	Signature sniff.Signature

	// Password decrypts protected entries. Empty means none.
	Password string
}

// Sink receives extracted entries. Paths are archive entry names; the sink
// sanitizes them.
type Sink interface {
	MkdirAll(p string) error
	WriteFile(ctx context.Context, p string, r io.Reader, mode fs.FileMode, buf []byte) (int64, error)
}

// Target is the staging directory an Extractor writes into.
type Target interface {
	Sink

	// Clear removes everything staged so far.
	Clear() error
}

// ReportFunc receives progress as done out of total, counted in entries or,
// for containers without an index, input bytes. total is zero when the
// engine cannot know it in advance.
type ReportFunc func(done, total int)

// Engine extracts every entry of an archive into a sink.
type Engine interface {
	Name() string
	Extract(ctx context.Context, src Source, dst Sink, report ReportFunc) error
}

// Stats describes a finished extraction.
type Stats struct {
	// Engine is the name of the engine that succeeded.
	Engine string

	// Fallback is set when the preferred engine failed first.
	Fallback bool

	// Recovered is set when any engine panicked during this extraction.
	Recovered bool

	Files   int
	Dirs    int
	Skipped int
	Bytes   int64
}

// Entries returns the number of staged files and directories.
func (s Stats) Entries() int {
	return s.Files + s.Dirs
}

// PanicError wraps a panic recovered from an engine.
type PanicError struct {
	Engine string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("extract: engine %s panicked: %v", e.Engine, e.Value)
}

// Extractor runs engines according to a Policy.
type Extractor struct {
	archiver   Engine
	stream     Engine
	policy     Policy
	maxEntries int
	maxBytes   int64
	logger     *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPolicy sets the engine preference. Default: PreferBySignature.
func WithPolicy(p Policy) Option {
	return func(x *Extractor) {
		x.policy = p
	}
}

// WithEngines replaces the archiver and stream engines.
func WithEngines(archiver, stream Engine) Option {
	return func(x *Extractor) {
		x.archiver = archiver
		x.stream = stream
	}
}

// WithMaxEntries caps the number of staged entries. Zero means unlimited.
func WithMaxEntries(n int) Option {
	return func(x *Extractor) {
		x.maxEntries = n
	}
}

// WithMaxTotalBytes caps the total staged file bytes. Zero means unlimited.
func WithMaxTotalBytes(n int64) Option {
	return func(x *Extractor) {
		x.maxBytes = n
	}
}

// WithLogger sets the logger for extraction.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Extractor) {
		x.logger = logger
	}
}

// New returns an Extractor using ArchiverEngine and StreamEngine.
func New(opts ...Option) *Extractor {
	x := &Extractor{
		archiver: ArchiverEngine{},
		stream:   StreamEngine{},
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Extractor) log() *slog.Logger {
	if x.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return x.logger
}

// Extract stages every entry of src into dst.
//
// On failure of the preferred engine, dst is cleared and the other engine is
// tried once. Context cancellation, limit violations and empty archives are
// not retried. When both engines fail the error wraps ErrExtractionFailed
// and both causes.
func (x *Extractor) Extract(ctx context.Context, src Source, dst Target, onProgress progress.LocalFunc) (Stats, error) {
	if err := src.Signature.Reject(); err != nil {
		return Stats{}, err
	}
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	report := func(done, total int) {
		if total > 0 {
			onProgress(float64(done) / float64(total))
		}
	}

	engines := x.policy.order(src.Signature, x.archiver, x.stream)
	var (
		causes    []error
		recovered bool
	)
	for i, eng := range engines {
		if i > 0 {
			if err := dst.Clear(); err != nil {
				return Stats{}, fmt.Errorf("%w: clear staging before fallback: %w", jobtype.ErrExtractionFailed, err)
			}
			x.log().Warn("extraction engine failed, falling back",
				"failed", engines[i-1].Name(),
				"fallback", eng.Name(),
				"error", causes[len(causes)-1])
		}

		g := &guard{dst: dst, maxEntries: x.maxEntries, maxBytes: x.maxBytes, logger: x.log()}
		start := time.Now()
		err := x.run(ctx, eng, src, g, report)
		var pe *PanicError
		if errors.As(err, &pe) {
			recovered = true
			x.log().Error("extraction engine panicked", "engine", eng.Name(), "panic", pe.Value, "stack", string(pe.Stack))
		}

		if err == nil {
			st := g.stats
			st.Engine = eng.Name()
			st.Fallback = i > 0
			st.Recovered = recovered
			if st.Entries() == 0 {
				return st, jobtype.ErrEmptyArchive
			}
			onProgress(1)
			x.log().Info("archive extracted",
				"engine", st.Engine,
				"signature", src.Signature.Kind.String(),
				"files", st.Files,
				"dirs", st.Dirs,
				"skipped", st.Skipped,
				"size", humanize.IBytes(uint64(st.Bytes)), //nolint:gosec // Bytes is never negative
				"duration", time.Since(start))
			return st, nil
		}

		if ctx.Err() != nil {
			return Stats{Recovered: recovered}, context.Cause(ctx)
		}
		if errors.Is(err, ErrLimitExceeded) {
			return Stats{Recovered: recovered}, fmt.Errorf("%w: %w", jobtype.ErrExtractionFailed, err)
		}
		causes = append(causes, fmt.Errorf("%s: %w", eng.Name(), err))
	}

	return Stats{Recovered: recovered}, fmt.Errorf("%w: %w", jobtype.ErrExtractionFailed, errors.Join(causes...))
}

func (x *Extractor) run(ctx context.Context, eng Engine, src Source, dst Sink, report ReportFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Engine: eng.Name(), Value: r, Stack: debug.Stack()}
		}
	}()
	x.log().Debug("extracting", "engine", eng.Name(), "signature", src.Signature.String())
	return eng.Extract(ctx, src, dst, report)
}

// guard sanitizes entry paths, enforces limits and counts what was staged.
type guard struct {
	dst        Sink
	maxEntries int
	maxBytes   int64
	buf        []byte
	stats      Stats
	logger     *slog.Logger
}

func (g *guard) admit(name string) error {
	if g.maxEntries > 0 && g.stats.Entries() >= g.maxEntries {
		return fmt.Errorf("%w: more than %d entries at %q", ErrLimitExceeded, g.maxEntries, name)
	}
	return nil
}

// clean sanitizes an entry name, noting rewrites of hostile or odd paths.
func (g *guard) clean(p string) string {
	name := pathutil.Sanitize(p)
	if name != "" && !pathutil.IsClean(strings.TrimSuffix(p, "/")) {
		g.logger.Debug("archive entry path rewritten", "name", p, "path", name)
	}
	return name
}

func (g *guard) MkdirAll(p string) error {
	name := g.clean(p)
	if name == "" {
		g.Skip(p, "empty path")
		return nil
	}
	if err := g.admit(name); err != nil {
		return err
	}
	if err := g.dst.MkdirAll(name); err != nil {
		return err
	}
	g.stats.Dirs++
	return nil
}

func (g *guard) WriteFile(ctx context.Context, p string, r io.Reader, mode fs.FileMode, _ []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, context.Cause(ctx)
	}
	name := g.clean(p)
	if name == "" {
		g.Skip(p, "empty path")
		return 0, nil
	}
	if err := g.admit(name); err != nil {
		return 0, err
	}
	if g.maxBytes > 0 {
		r = io.LimitReader(r, g.maxBytes-g.stats.Bytes+1)
	}
	if g.buf == nil {
		g.buf = make([]byte, file.DefaultBufferSize)
	}
	n, err := g.dst.WriteFile(ctx, name, r, mode, g.buf)
	if err != nil {
		return n, err
	}
	total, ok := sizing.AddInt64(g.stats.Bytes, n)
	if !ok {
		return n, jobtype.ErrSizeOverflow
	}
	if g.maxBytes > 0 && total > g.maxBytes {
		return n, fmt.Errorf("%w: more than %s staged at %q", ErrLimitExceeded, humanize.IBytes(uint64(g.maxBytes)), name) //nolint:gosec // limit is positive
	}
	g.stats.Files++
	g.stats.Bytes = total
	return n, nil
}

func (g *guard) Skip(name, reason string) {
	g.stats.Skipped++
	g.logger.Debug("skipping archive entry", "name", name, "reason", reason)
}

// skipper is implemented by sinks that track skipped entries.
type skipper interface {
	Skip(name, reason string)
}

// skip records that an entry was not staged.
func skip(dst Sink, name, reason string) {
	if s, ok := dst.(skipper); ok {
		s.Skip(name, reason)
	}
}
