package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/repack/internal/sniff"
)

// sniffWindow covers every signature, including the TAR magic at offset 257.
const sniffWindow = 512

type sniffResult struct {
	sig sniff.Signature
	err error
}

func newSniffCommand() *cobra.Command {
	var jobs int

	cmd := &cobra.Command{
		Use:         "sniff <file>...",
		Short:       "Identify archive files by their magic bytes",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]sniffResult, len(args))

			var g errgroup.Group
			g.SetLimit(max(jobs, 1))
			for i, path := range args {
				g.Go(func() error {
					sig, err := sniffFile(path)
					results[i] = sniffResult{sig: sig, err: err}
					return nil
				})
			}
			_ = g.Wait() //nolint:errcheck // per-file errors are reported below

			out := cmd.OutOrStdout()
			failed := 0
			for i, path := range args {
				r := results[i]
				switch {
				case r.err != nil:
					failed++
					fmt.Fprintf(out, "%s\terror: %v\n", path, r.err)
				case r.sig.Reject() != nil:
					fmt.Fprintf(out, "%s\t%s\t%v\n", path, r.sig, r.sig.Reject())
				default:
					fmt.Fprintf(out, "%s\t%s\n", path, r.sig)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be read", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "Files read concurrently")
	return cmd
}

func sniffFile(path string) (sniff.Signature, error) {
	f, err := os.Open(path)
	if err != nil {
		return sniff.Signature{}, err
	}
	defer f.Close()

	buf := make([]byte, sniffWindow)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return sniff.Signature{}, err
	}
	return sniff.Detect(buf[:n]), nil
}
