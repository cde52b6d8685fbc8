// Package server exposes archive conversion over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meigma/repack/format"
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/internal/sizing"
	"github.com/meigma/repack/runner"
)

// Headers used by the convert endpoint.
const (
	HeaderPassword = "X-Archive-Password"
	HeaderDigest   = "X-Content-Digest"
	HeaderState    = "X-Job-State"
)

// Submitter hands requests to runners.
type Submitter interface {
	Submit(ctx context.Context, req runner.Request) (*runner.Job, error)
	TrySubmit(ctx context.Context, req runner.Request) (*runner.Job, error)
	Size() int
}

// Config holds HTTP server settings.
type Config struct {
	// Addr is the listen address.
	Addr string

	// QueueWait is how long a request waits for a free runner before 429.
	// Zero rejects immediately.
	QueueWait time.Duration

	// MaxBodyBytes limits request bodies. Zero means unlimited.
	MaxBodyBytes int64

	// WriteTimeout bounds a whole request, including the conversion.
	WriteTimeout time.Duration
}

// Server serves conversions from a Submitter.
type Server struct {
	cfg       Config
	jobs      Submitter
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a server. A nil logger disables logging.
func New(cfg Config, jobs Submitter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Minute
	}
	return &Server{cfg: cfg, jobs: jobs, logger: logger, startedAt: time.Now()}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/v1/convert", s.handleConvert)
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("http server starting", "addr", s.cfg.Addr, "runners", s.jobs.Size())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type healthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Runners       int    `json:"runners"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Runners:       s.jobs.Size(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target, err := format.Parse(r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	body := r.Body
	if s.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	buf, err := sizing.ReadAllWithLimit(body, s.cfg.MaxBodyBytes, jobtype.ErrInputTooLarge)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			err = fmt.Errorf("%w: body exceeds %d bytes", jobtype.ErrInputTooLarge, mbe.Limit)
		}
		s.writeError(w, err)
		return
	}

	req := runner.Request{
		Cmd:          runner.CmdConvert,
		TargetFormat: target.String(),
		Buffer:       buf,
		Password:     r.Header.Get(HeaderPassword),
		Name:         r.URL.Query().Get("name"),
	}
	job, err := s.submit(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := job.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Client went away; stop the job and free the runner.
			job.Cancel()
			<-job.Done()
			return
		}
		w.Header().Set(HeaderState, job.State().String())
		s.writeError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", res.Format.MediaType())
	h.Set("Content-Length", fmt.Sprint(len(res.Buffer)))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Name}))
	h.Set(HeaderDigest, res.Digest.String())
	h.Set(HeaderState, jobtype.StateDone.String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Buffer); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// submit waits up to QueueWait for a runner.
func (s *Server) submit(ctx context.Context, req runner.Request) (*runner.Job, error) {
	if s.cfg.QueueWait <= 0 {
		return s.jobs.TrySubmit(ctx, req)
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.QueueWait)
	defer cancel()
	job, err := s.jobs.Submit(waitCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, jobtype.ErrBusy
	}
	return job, err
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("conversion failed", "status", status, "error", err)
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), State: jobtype.Terminal(err).String()})
}

// StatusFor maps a conversion error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, jobtype.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, jobtype.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, jobtype.ErrInputTooLarge), errors.Is(err, jobtype.ErrOutputTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, jobtype.ErrEmptyArchive),
		errors.Is(err, jobtype.ErrExtractionFailed),
		errors.Is(err, jobtype.ErrPasswordRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, jobtype.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, jobtype.ErrEngineUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, jobtype.ErrRunnerClosed), errors.Is(err, jobtype.ErrCanceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, runner.ErrUnknownCommand):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
}
