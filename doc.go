// Package repack converts archives from one container format to another.
//
// Input may be ZIP, 7z, TAR (plain, gzip, bzip2 or xz) or RAR v4. Output is
// any [Format]: zip, 7z, tar, tar.gz, tar.bz2 or tar.xz. A conversion sniffs
// the input, extracts it into an isolated staging subtree, packs the staged
// tree with compression settings chosen from its size, and returns the new
// archive as a single buffer.
//
// # Quick Start
//
// Convert one archive:
//
//	res, err := repack.Convert(ctx, data, repack.TarGz,
//	    repack.ConvertWithProgress(func(percent int) {
//	        fmt.Fprintf(os.Stderr, "\r%3d%%", percent)
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	err = os.WriteFile(res.Name, res.Buffer, 0o644)
//
// # Runners
//
// For repeated conversions, keep a [Runner] (one job at a time) or a [Pool]
// (several runners sharing one staging directory):
//
//	r, err := repack.NewRunner(repack.WithTimeout(2 * time.Minute))
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	job, err := r.Submit(ctx, repack.Request{Cmd: "convert", TargetFormat: "zip", Buffer: data})
//	if err != nil {
//	    return err // ErrBusy while another job runs
//	}
//	for msg := range job.Messages() {
//	    // progress, then exactly one done or error
//	}
//
// # Staging
//
// Staged files live on disk under [DefaultStagingDir] when that directory is
// writable and otherwise in memory. Every job's subtree is removed when the
// job ends, whatever the outcome.
package repack
