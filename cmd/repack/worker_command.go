package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meigma/repack/internal/worker"
	"github.com/meigma/repack/runner"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run conversions requested as CBOR on stdin, replying on stdout",
		Long: `worker reads a CBOR sequence of requests from stdin and writes a CBOR
sequence of progress, done and error messages to stdout. It runs one job at a
time. A host that needs to stop a job unconditionally kills the process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			r, err := runner.New(cfg.RunnerOptions(logger)...)
			if err != nil {
				return err
			}
			defer r.Close()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Debug("worker ready", "staging", r.Staging().Backend().String())
			return worker.Serve(sigCtx, cmd.InOrStdin(), cmd.OutOrStdout(), r, logger)
		},
	}
}
