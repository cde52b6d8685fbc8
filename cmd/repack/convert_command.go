package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/repack"
	"github.com/meigma/repack/format"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var target string
	var password string
	var output string
	var overwrite bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "convert <input>...",
		Short: "Convert an archive to another format",
		Long: `Convert an archive to another format.

When several parts of a multi-volume upload are given, the primary part
(.part1.rar, .r00, .001 and so on) is read and names the output.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := format.Parse(target)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			bases := make([]string, len(args))
			for i, a := range args {
				bases[i] = filepath.Base(a)
			}
			input := args[format.PickPrimary(bases)]
			if len(args) > 1 {
				logger.Debug("using primary part", "input", input, "parts", len(args))
			}
			data, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			dest := output
			if dest == "" {
				dest = filepath.Join(filepath.Dir(input), format.SuggestedName(filepath.Base(input), f))
			}
			if !overwrite {
				if _, err := os.Stat(dest); err == nil {
					return fmt.Errorf("%s already exists (use --overwrite to replace it)", dest)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("check output path: %w", err)
				}
			}

			stderr := cmd.ErrOrStderr()
			opts := []repack.ConvertOption{
				repack.ConvertWithName(filepath.Base(input)),
				repack.ConvertWithPassword(password),
				repack.ConvertWithRunnerOptions(cfg.RunnerOptions(logger)...),
			}
			if !quiet {
				opts = append(opts, repack.ConvertWithProgress(func(percent int) {
					fmt.Fprintf(stderr, "\r%3d%%", percent)
				}))
			}

			res, err := repack.Convert(cmd.Context(), data, f, opts...)
			if !quiet {
				fmt.Fprintln(stderr)
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(dest, res.Buffer, 0o644); err != nil { //nolint:gosec // archives are shared artifacts
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
				dest, humanize.IBytes(uint64(len(res.Buffer))), res.Digest) //nolint:gosec // length is never negative
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "to", "t", "", "Target format: zip, 7z, tar, tar.gz, tar.bz2, tar.xz")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Archive password")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (default: next to the input, with the target extension)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing output file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
	_ = cmd.MarkFlagRequired("to") //nolint:errcheck // flag is defined above
	return cmd
}
