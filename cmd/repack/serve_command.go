package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/repack/internal/server"
	"github.com/meigma/repack/runner"
	"github.com/meigma/repack/staging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Serve.Addr
			}

			pool, err := runner.NewPool(cfg.Jobs.PoolSize, cfg.RunnerOptions(logger)...)
			if err != nil {
				return err
			}
			defer pool.Close()

			srv := server.New(server.Config{
				Addr:         addr,
				QueueWait:    cfg.Serve.QueueWait.Std(),
				MaxBodyBytes: cfg.Jobs.MaxInputBytes,
			}, pool, logger)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(sigCtx)
			g.Go(func() error {
				return srv.ListenAndServe(gctx)
			})
			if maxAge := cfg.Staging.StaleAfter.Std(); maxAge > 0 && pool.Staging().Backend() == staging.BackendDisk {
				g.Go(func() error {
					sweepLoop(gctx, pool.Staging(), maxAge, logger)
					return nil
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

// sweepLoop removes staging subtrees abandoned for longer than maxAge.
func sweepLoop(ctx context.Context, fs *staging.Filesystem, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(max(maxAge/4, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := fs.Sweep(maxAge)
			for _, e := range res.Errors {
				logger.Warn("failed to remove stale staging subtree", "path", e.Path, "error", e.Err)
			}
		}
	}
}
