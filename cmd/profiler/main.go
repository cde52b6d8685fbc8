package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/felixge/fgprof"

	"github.com/meigma/repack"
	"github.com/meigma/repack/extract"
	"github.com/meigma/repack/format"
	"github.com/meigma/repack/internal/sniff"
	"github.com/meigma/repack/pack"
	"github.com/meigma/repack/staging"
)

type config struct {
	mode       string
	from       string
	to         string
	engine     string
	files      int
	fileSize   int
	dirCount   int
	pattern    string
	fgProfile  string
	duration   time.Duration
	iterations int
	pprofAddr  string
	cpuProfile string
	memProfile string
	traceFile  string
	stagingDir string
	memory     bool
	randomSeed int64
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkBytes []byte
	sinkSig   sniff.Signature
)

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()
	ctx := context.Background()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	fsys, err := staging.Open(staging.WithDir(cfg.stagingDir), staging.WithPreferMemory(cfg.memory))
	if err != nil {
		log.Fatal(err)
	}
	defer fsys.Close()

	from, err := format.Parse(cfg.from)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
	}
	to, err := format.Parse(cfg.to)
	if err != nil {
		log.Fatal(err)
	}

	tree, err := fsys.Mount(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer tree.Release() //nolint:errcheck // cleanup errors are non-fatal in profiler

	src, err := tree.Sub("src")
	if err != nil {
		log.Fatal(err)
	}
	if err := makeFiles(ctx, src, cfg.files, cfg.fileSize, cfg.dirCount, cfg.pattern, cfg.randomSeed); err != nil {
		log.Fatal(err)
	}
	input, err := buildArchive(ctx, tree, src, from)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("input %s: %s", from, humanize.IBytes(uint64(len(input)))) //nolint:gosec // length is never negative

	var stopFG func() error
	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr)
		}
		stopFG = fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				log.Printf("fgprof stop error: %v", err)
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(ctx, cfg, fsys, tree, input, to)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s from=%s to=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		from,
		to,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

// runProfile repeats one pipeline stage. Bytes count the archive input for
// convert, extract and sniff, and the staged tree for pack.
//
//nolint:gocognit,gocyclo,gocritic // complexity is inherent to multi-mode profiler dispatch; hugeParam acceptable for profiler
func runProfile(ctx context.Context, cfg config, fsys *staging.Filesystem, tree *staging.Tree, input []byte, to format.Format) (profileStats, error) {
	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	engine, err := pack.ParseEngine(cfg.engine)
	if err != nil {
		return profileStats{}, err
	}

	switch cfg.mode {
	case "convert":
		r, err := repack.NewRunner(
			repack.WithStaging(fsys),
			repack.WithTimeout(0),
			repack.WithPackOptions(pack.WithEngine(engine)),
		)
		if err != nil {
			return profileStats{}, err
		}
		defer r.Close()

		for shouldContinue() {
			job, err := r.Submit(ctx, repack.Request{Cmd: "convert", TargetFormat: to.String(), Buffer: input})
			if err != nil {
				return profileStats{}, err
			}
			res, err := job.Wait(ctx)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = res.Buffer
			byteCount += int64(len(input))
			ops++
		}

	case "extract":
		dst, err := tree.Sub("extract")
		if err != nil {
			return profileStats{}, err
		}
		x := extract.New()
		sig := sniff.Detect(input)
		for shouldContinue() {
			if err := dst.Clear(); err != nil {
				return profileStats{}, err
			}
			if _, err := x.Extract(ctx, extract.Source{Data: input, Signature: sig}, dst, nil); err != nil {
				return profileStats{}, err
			}
			byteCount += int64(len(input))
			ops++
		}

	case "pack":
		src, err := tree.Sub("src")
		if err != nil {
			return profileStats{}, err
		}
		out, err := tree.Sub("pack")
		if err != nil {
			return profileStats{}, err
		}
		st, err := src.Stats("")
		if err != nil {
			return profileStats{}, err
		}
		p := pack.New(pack.WithEngine(engine))
		for shouldContinue() {
			if err := out.Clear(); err != nil {
				return profileStats{}, err
			}
			if _, err := p.Pack(ctx, src, out, to, "", nil); err != nil {
				return profileStats{}, err
			}
			byteCount += st.Bytes
			ops++
		}

	case "sniff":
		for shouldContinue() {
			sinkSig = sniff.Detect(input)
			byteCount += int64(min(len(input), 512))
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.mode, "mode", "convert", "mode: convert, extract, pack, sniff")
	flag.StringVar(&cfg.from, "from", "zip", "input archive format")
	flag.StringVar(&cfg.to, "to", "tar.gz", "output archive format")
	flag.StringVar(&cfg.engine, "engine", "auto", "pack engine: auto, native, 7zip")
	flag.IntVar(&cfg.files, "files", 512, "number of files")
	flag.IntVar(&cfg.fileSize, "file-size", 16<<10, "file size in bytes")
	flag.IntVar(&cfg.dirCount, "dir-count", 16, "number of directories")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.stagingDir, "staging-dir", "", "disk staging directory")
	flag.BoolVar(&cfg.memory, "memory", false, "stage in memory")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	return cfg
}

func makeFiles(ctx context.Context, dst *staging.Tree, fileCount, fileSize, dirCount int, pattern string, seed int64) error {
	if dirCount <= 0 {
		dirCount = 1
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // intentional use for reproducible benchmarks
	content := make([]byte, fileSize)
	for i := range fileCount {
		switch pattern {
		case "random":
			if _, err := rng.Read(content); err != nil {
				return err
			}
		default:
			fillByte := byte('a' + (i % 26))
			for j := range content {
				content[j] = fillByte
			}
			if len(content) > 0 {
				content[0] = byte(i)
			}
		}
		name := fmt.Sprintf("dir%02d/file%05d.dat", i%dirCount, i)
		if _, err := dst.WriteFile(ctx, name, bytes.NewReader(content), 0o644, nil); err != nil {
			return err
		}
	}
	return nil
}

// buildArchive packs src natively into an input archive of format f.
func buildArchive(ctx context.Context, tree, src *staging.Tree, f format.Format) ([]byte, error) {
	if f == format.SevenZip {
		return nil, errors.New("7z input must be supplied by 7-zip; pick another -from")
	}
	out, err := tree.Sub("input")
	if err != nil {
		return nil, err
	}
	res, err := pack.New(pack.WithEngine(pack.EngineNative)).Pack(ctx, src, out, f, "", nil)
	if err != nil {
		return nil, err
	}
	return out.ReadFile(res.Name, 0)
}
