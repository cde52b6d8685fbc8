// Package runner executes conversion jobs one at a time.
//
// A Runner owns a single worker goroutine. Callers submit requests and
// receive a Job whose message channel carries progress notifications and
// exactly one terminal message. Jobs never overlap on a runner: a second
// submission waits in the optional queue or is rejected with ErrBusy.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/repack/extract"
	"github.com/meigma/repack/format"
	"github.com/meigma/repack/internal/engine"
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/internal/sniff"
	"github.com/meigma/repack/progress"
	"github.com/meigma/repack/staging"
)

// ErrUnknownCommand is returned by Submit for requests other than "convert".
var ErrUnknownCommand = errors.New("runner: unknown command")

// Runner runs one conversion job at a time on a dedicated goroutine.
type Runner struct {
	cfg        config
	staging    *staging.Filesystem
	ownStaging bool
	engines    *engine.Handle[*Engines]
	logger     *slog.Logger

	slots    *semaphore.Weighted
	requests chan *Job
	quit     chan struct{}
	base     context.Context
	stop     context.CancelCauseFunc
	wg       sync.WaitGroup

	state atomic.Uint32

	mu     sync.Mutex
	closed bool
	jobs   map[string]*Job
}

// New starts a runner.
func New(opts ...Option) (*Runner, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.weights.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fs := cfg.staging
	own := false
	if fs == nil {
		var err error
		fs, err = staging.Open(append([]staging.Option{staging.WithLogger(logger)}, cfg.stagingOpts...)...)
		if err != nil {
			return nil, fmt.Errorf("open staging: %w", err)
		}
		own = true
	}

	factory := cfg.factory
	if factory == nil {
		factory = defaultFactory(&cfg, logger)
	}

	base, stop := context.WithCancelCause(context.Background())
	r := &Runner{
		cfg:        cfg,
		staging:    fs,
		ownStaging: own,
		engines:    engine.NewHandle(engine.Factory[*Engines](factory), nil),
		logger:     logger,
		slots:      semaphore.NewWeighted(int64(1 + cfg.queueDepth)),
		requests:   make(chan *Job, 1+cfg.queueDepth),
		quit:       make(chan struct{}),
		base:       base,
		stop:       stop,
		jobs:       make(map[string]*Job),
	}
	r.wg.Add(1)
	go r.loop()
	return r, nil
}

// State returns the state of the running job, or StateIdle.
func (r *Runner) State() jobtype.State {
	return jobtype.State(r.state.Load())
}

// Staging returns the staging filesystem jobs mount subtrees from.
func (r *Runner) Staging() *staging.Filesystem {
	return r.staging
}

// Submit validates req and hands it to the worker.
//
// Unknown commands, unsupported target formats and oversized buffers fail
// here before any work starts. If a job is already running and the queue is
// full, Submit returns ErrBusy.
func (r *Runner) Submit(ctx context.Context, req Request) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	if req.Cmd != CmdConvert {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Cmd)
	}
	f, err := format.Parse(req.TargetFormat)
	if err != nil {
		return nil, err
	}
	if r.cfg.maxInput > 0 && int64(len(req.Buffer)) > r.cfg.maxInput {
		return nil, fmt.Errorf("%w: %s exceeds %s", jobtype.ErrInputTooLarge,
			humanize.IBytes(uint64(len(req.Buffer))), humanize.IBytes(uint64(r.cfg.maxInput))) //nolint:gosec // both positive
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, jobtype.ErrRunnerClosed
	}
	if !r.slots.TryAcquire(1) {
		r.logger.Info("job rejected", "reason", "busy", "format", f.String())
		return nil, jobtype.ErrBusy
	}

	job := newJob(uuid.NewString(), req, f)
	r.jobs[job.id] = job
	// A slot guarantees room in the buffered channel.
	r.requests <- job
	r.logger.Info("job accepted",
		"job", job.id,
		"format", f.String(),
		"input", humanize.IBytes(uint64(len(req.Buffer)))) //nolint:gosec // length is never negative
	return job, nil
}

// Cancel cancels the job with the given id. It reports whether the job was
// known and not yet finished.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	r.mu.Unlock()
	if ok {
		job.Cancel()
	}
	return ok
}

// Close stops the worker. The running job is cancelled with ErrRunnerClosed
// and queued jobs fail with it.
func (r *Runner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.stop(jobtype.ErrRunnerClosed)
	close(r.quit)
	r.wg.Wait()

	for drained := false; !drained; {
		select {
		case job := <-r.requests:
			r.complete(job, Result{}, jobtype.ErrRunnerClosed)
		default:
			drained = true
		}
	}

	err := r.engines.Close()
	if r.ownStaging {
		err = errors.Join(err, r.staging.Close())
	}
	return err
}

func (r *Runner) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.quit:
			return
		case job := <-r.requests:
			r.process(job)
		}
	}
}

func (r *Runner) process(job *Job) {
	start := time.Now()
	log := r.logger.With("job", job.id, "format", job.format.String())

	ctx, cancel := context.WithCancelCause(r.base)
	defer cancel(nil)
	job.bind(cancel)
	if r.cfg.timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, r.cfg.timeout, jobtype.ErrTimeout)
		defer stop()
	}

	res, err := r.run(ctx, job, log)
	if err != nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	res.Duration = time.Since(start)

	state := jobtype.Terminal(err)
	if err != nil {
		log.Warn("job finished", "state", state.String(), "duration", res.Duration, "error", err)
	} else {
		log.Info("job finished",
			"state", state.String(),
			"duration", res.Duration,
			"output", humanize.IBytes(uint64(len(res.Buffer))), //nolint:gosec // length is never negative
			"digest", res.Digest.String())
	}
	r.complete(job, res, err)
}

// complete frees the runner slot before publishing the outcome, so a caller
// woken by the job can submit again immediately.
func (r *Runner) complete(job *Job, res Result, err error) {
	r.state.Store(uint32(jobtype.StateIdle))
	r.mu.Lock()
	delete(r.jobs, job.id)
	r.mu.Unlock()
	r.slots.Release(1)
	job.finish(res, err)
}

func (r *Runner) enter(job *Job, s jobtype.State) {
	job.setState(s)
	r.state.Store(uint32(s))
}

func (r *Runner) run(ctx context.Context, job *Job, log *slog.Logger) (res Result, err error) {
	sampler := progress.NewPercentSampler(job.progress)
	agg := progress.NewAggregator(r.cfg.weights, sampler.Observe)

	r.enter(job, jobtype.StateSniffing)
	if err := job.checkpoint(); err != nil {
		return res, err
	}
	agg.Begin()

	sig := sniff.Detect(job.buf)
	log.Debug("input sniffed", "signature", sig.String())
	if err := sig.Reject(); err != nil {
		return res, err
	}
	if err := job.checkpoint(); err != nil {
		return res, err
	}

	lease, err := r.engines.Acquire()
	if err != nil {
		return res, fmt.Errorf("%w: %w", jobtype.ErrEngineUnavailable, err)
	}
	invalidate := false
	defer func() {
		if p := recover(); p != nil {
			invalidate = true
			err = fmt.Errorf("runner: panic while %s: %v", job.State(), p)
		}
		if invalidate || errors.Is(err, jobtype.ErrTimeout) || errors.Is(err, jobtype.ErrCanceled) {
			log.Debug("discarding engine state", "generation", lease.Generation())
			_ = lease.Invalidate() //nolint:errcheck // teardown errors are not job errors
			return
		}
		_ = lease.Release() //nolint:errcheck // teardown errors are not job errors
	}()
	eng := lease.Value()

	tree, err := r.staging.Mount(ctx)
	if err != nil {
		return res, fmt.Errorf("mount staging: %w", err)
	}
	defer func() {
		if relErr := tree.Release(); relErr != nil {
			log.Warn("failed to release staging subtree", "name", tree.Name(), "error", relErr)
		}
	}()
	src, err := tree.Sub("src")
	if err != nil {
		return res, fmt.Errorf("prepare staging: %w", err)
	}
	out, err := tree.Sub("out")
	if err != nil {
		return res, fmt.Errorf("prepare staging: %w", err)
	}

	r.enter(job, jobtype.StateExtracting)
	xst, err := eng.Extractor.Extract(ctx, extract.Source{
		Data:      job.buf,
		Signature: sig,
		Password:  job.password,
	}, src, agg.Reporter(progress.PhaseExtract))
	invalidate = xst.Recovered
	res.Extract = xst
	if err != nil {
		return res, err
	}
	// The staged tree replaces the input from here on.
	job.buf = nil
	if err := job.checkpoint(); err != nil {
		return res, err
	}

	r.enter(job, jobtype.StatePacking)
	if err := job.checkpoint(); err != nil {
		return res, err
	}
	pres, err := eng.Packing.Pack(ctx, src, out, job.format, job.password, agg.Reporter(progress.PhasePack))
	res.Pack = pres
	if err != nil {
		return res, err
	}

	r.enter(job, jobtype.StateFinalizing)
	agg.Finalize()
	buf, err := out.ReadFile(pres.Name, r.cfg.maxOutput)
	if err != nil {
		if errors.Is(err, jobtype.ErrOutputTooLarge) {
			return res, err
		}
		return res, fmt.Errorf("%w: read output: %w", jobtype.ErrPackingFailed, err)
	}

	res.Buffer = buf
	res.Digest = digest.FromBytes(buf)
	res.Format = job.format
	res.Name = format.SuggestedName(job.name, job.format)
	agg.Done()
	return res, nil
}
