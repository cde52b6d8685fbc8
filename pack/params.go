package pack

import (
	"fmt"

	"github.com/meigma/repack/format"
	"github.com/meigma/repack/staging"
)

const mib = 1 << 20

// Thresholds decide when a staged tree counts as large.
type Thresholds struct {
	// Files is the file count at or above which a tree is large.
	Files int64

	// Bytes is the total size at or above which a tree is large.
	Bytes int64
}

// DefaultThresholds classify 2000 files or 200 MiB as large.
var DefaultThresholds = Thresholds{Files: 2000, Bytes: 200 * mib}

// Classify reports whether st is large under th. Zero fields fall back to
// DefaultThresholds.
func Classify(st staging.Stats, th Thresholds) bool {
	if th.Files <= 0 {
		th.Files = DefaultThresholds.Files
	}
	if th.Bytes <= 0 {
		th.Bytes = DefaultThresholds.Bytes
	}
	return st.Files >= th.Files || st.Bytes >= th.Bytes
}

// Params are the compression settings for the final packing step.
// Zero values leave the codec default in place.
type Params struct {
	// Level is the compression effort on the 7-Zip 0-9 scale.
	Level int

	// DictBytes is the LZMA2 dictionary size.
	DictBytes int64

	// FastBytes is the LZMA2 fast-bytes (word size) setting.
	FastBytes int

	// Threads caps compressor threads.
	Threads int

	// Solid enables solid 7z blocks.
	Solid bool
}

// Select returns the parameters for packing f from a tree classified by
// large. Large trees trade ratio for a bounded working set; every format
// packs single-threaded.
func Select(f format.Format, large bool) Params {
	switch f {
	case format.SevenZip:
		if large {
			return Params{Level: 3, DictBytes: 32 * mib, FastBytes: 64, Threads: 1}
		}
		return Params{Level: 5, Threads: 1}
	case format.Zip:
		if large {
			return Params{Level: 3, Threads: 1}
		}
		return Params{Level: 5, Threads: 1}
	case format.TarXz:
		if large {
			return Params{DictBytes: 32 * mib, FastBytes: 64, Threads: 1}
		}
		return Params{DictBytes: 64 * mib, FastBytes: 80, Threads: 1}
	case format.TarGz:
		if large {
			return Params{Level: 6, Threads: 1}
		}
		return Params{Level: 9, Threads: 1}
	case format.TarBz2:
		if large {
			return Params{Level: 5, Threads: 1}
		}
		return Params{Level: 9, Threads: 1}
	case format.Tar:
		return Params{Threads: 1}
	case format.Invalid:
		return Params{}
	default:
		return Params{}
	}
}

// Args renders p as 7-Zip switches for the step that produces f. For the
// TAR family this is the compression step.
func (p Params) Args(f format.Format) []string {
	var args []string
	if p.Level > 0 && f != format.TarXz && f != format.Tar {
		args = append(args, fmt.Sprintf("-mx=%d", p.Level))
	}
	if (f == format.SevenZip || f == format.TarXz) && p.DictBytes > 0 {
		m0 := "-m0=lzma2:d=" + dictString(p.DictBytes)
		if p.FastBytes > 0 {
			m0 += fmt.Sprintf(",fb=%d", p.FastBytes)
		}
		args = append(args, m0)
	}
	if f == format.SevenZip {
		if p.Solid {
			args = append(args, "-ms=on")
		} else {
			args = append(args, "-ms=off")
		}
	}
	if p.Threads > 0 {
		args = append(args, fmt.Sprintf("-mmt=%d", p.Threads))
	}
	return args
}

// String formats p for logs.
func (p Params) String() string {
	return fmt.Sprintf("level=%d dict=%s fb=%d threads=%d solid=%t",
		p.Level, dictString(p.DictBytes), p.FastBytes, p.Threads, p.Solid)
}

func dictString(n int64) string {
	switch {
	case n <= 0:
		return "default"
	case n%mib == 0:
		return fmt.Sprintf("%dm", n/mib)
	case n%1024 == 0:
		return fmt.Sprintf("%dk", n/1024)
	default:
		return fmt.Sprintf("%db", n)
	}
}
