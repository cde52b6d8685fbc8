package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/staging"
)

// Pool spreads jobs over independent runners that share one staging
// filesystem. Each runner still runs a single job at a time.
type Pool struct {
	sem        *semaphore.Weighted
	staging    *staging.Filesystem
	ownStaging bool
	logger     *slog.Logger

	mu      sync.Mutex
	runners []*Runner
	free    []*Runner
	closed  bool
	wg      sync.WaitGroup
}

// NewPool starts size runners configured by opts.
func NewPool(size int, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("runner: pool size must be positive, got %d", size)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
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

	p := &Pool{
		sem:        semaphore.NewWeighted(int64(size)),
		staging:    fs,
		ownStaging: own,
		logger:     logger,
	}
	// Queued jobs would hide a free runner behind a busy one.
	ropts := append(append([]Option(nil), opts...), WithStaging(fs), WithQueueDepth(0))
	for range size {
		r, err := New(ropts...)
		if err != nil {
			_ = p.Close() //nolint:errcheck // construction error wins
			return nil, err
		}
		p.runners = append(p.runners, r)
		p.free = append(p.free, r)
	}
	return p, nil
}

// Size returns the number of runners.
func (p *Pool) Size() int {
	return len(p.runners)
}

// Staging returns the filesystem shared by the pool's runners.
func (p *Pool) Staging() *staging.Filesystem {
	return p.staging
}

// Submit waits for a free runner, bounded by ctx, and submits req to it.
func (p *Pool) Submit(ctx context.Context, req Request) (*Job, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, context.Cause(ctx)
	}
	return p.submit(ctx, req)
}

// TrySubmit submits req to a free runner, or fails with ErrBusy when every
// runner has a job.
func (p *Pool) TrySubmit(ctx context.Context, req Request) (*Job, error) {
	if !p.sem.TryAcquire(1) {
		return nil, jobtype.ErrBusy
	}
	return p.submit(ctx, req)
}

// submit runs with one semaphore slot held.
func (p *Pool) submit(ctx context.Context, req Request) (*Job, error) {
	r, err := p.take()
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	job, err := r.Submit(ctx, req)
	if err != nil {
		p.put(r)
		return nil, err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		<-job.Done()
		p.put(r)
	}()
	return job, nil
}

// Convert submits req and waits for the result. If ctx ends first, the job
// is cancelled and Convert returns once it has stopped.
func (p *Pool) Convert(ctx context.Context, req Request) (Result, error) {
	job, err := p.Submit(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res, err := job.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		job.Cancel()
		<-job.Done()
	}
	return res, err
}

// Close stops every runner and closes the shared staging filesystem if the
// pool opened it.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	runners := p.runners
	p.mu.Unlock()

	var errs []error
	for _, r := range runners {
		errs = append(errs, r.Close())
	}
	p.wg.Wait()
	if p.ownStaging {
		errs = append(errs, p.staging.Close())
	}
	return errors.Join(errs...)
}

func (p *Pool) take() (*Runner, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, jobtype.ErrRunnerClosed
	}
	n := len(p.free)
	if n == 0 {
		// The semaphore admits at most len(runners) holders.
		return nil, errors.New("runner: pool has no free runner")
	}
	r := p.free[n-1]
	p.free = p.free[:n-1]
	return r, nil
}

func (p *Pool) put(r *Runner) {
	p.mu.Lock()
	p.free = append(p.free, r)
	p.mu.Unlock()
	p.sem.Release(1)
}
