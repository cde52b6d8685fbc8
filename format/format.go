// Package format defines the closed set of archive containers repack can
// produce.
package format

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/internal/pathutil"
)

// Format identifies a target archive container.
type Format uint8

// Supported target formats. The zero value is not a valid format.
const (
	Invalid Format = iota
	Zip
	SevenZip
	Tar
	TarGz
	TarBz2
	TarXz
)

// All lists every supported target format in declaration order.
var All = []Format{Zip, SevenZip, Tar, TarGz, TarBz2, TarXz}

// Parse converts a target format tag (e.g. "tar.gz") into a Format.
// Tags are case-insensitive and surrounding whitespace is ignored.
// Common aliases such as "tgz" are accepted. Unknown tags, including "rar",
// return ErrUnsupportedFormat.
func Parse(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zip":
		return Zip, nil
	case "7z":
		return SevenZip, nil
	case "tar":
		return Tar, nil
	case "tar.gz", "tgz":
		return TarGz, nil
	case "tar.bz2", "tbz2", "tbz":
		return TarBz2, nil
	case "tar.xz", "txz":
		return TarXz, nil
	case "rar":
		return Invalid, fmt.Errorf("%w: rar output is not supported", jobtype.ErrUnsupportedFormat)
	default:
		return Invalid, fmt.Errorf("%w: unknown target format %q", jobtype.ErrUnsupportedFormat, s)
	}
}

// String returns the canonical tag of the format.
func (f Format) String() string {
	switch f {
	case Zip:
		return "zip"
	case SevenZip:
		return "7z"
	case Tar:
		return "tar"
	case TarGz:
		return "tar.gz"
	case TarBz2:
		return "tar.bz2"
	case TarXz:
		return "tar.xz"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	return f >= Zip && f <= TarXz
}

// Extension returns the file extension including the leading dot.
func (f Format) Extension() string {
	if !f.Valid() {
		return ""
	}
	return "." + f.String()
}

// IsTar reports whether f is TAR or one of its compressed variants.
func (f Format) IsTar() bool {
	switch f {
	case Tar, TarGz, TarBz2, TarXz:
		return true
	case Invalid, Zip, SevenZip:
		return false
	default:
		return false
	}
}

// Filter returns the compression filter applied on top of a TAR stream.
// It returns FilterNone for TAR, ZIP and 7z.
func (f Format) Filter() Filter {
	switch f {
	case TarGz:
		return FilterGzip
	case TarBz2:
		return FilterBzip2
	case TarXz:
		return FilterXz
	case Invalid, Zip, SevenZip, Tar:
		return FilterNone
	default:
		return FilterNone
	}
}

// MediaType returns the MIME type of the container.
func (f Format) MediaType() string {
	switch f {
	case Zip:
		return "application/zip"
	case SevenZip:
		return "application/x-7z-compressed"
	case Tar:
		return "application/x-tar"
	case TarGz:
		return "application/gzip"
	case TarBz2:
		return "application/x-bzip2"
	case TarXz:
		return "application/x-xz"
	case Invalid:
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

// Filter is a single-stream compression applied to a TAR archive.
type Filter uint8

// Compression filters.
const (
	FilterNone Filter = iota
	FilterGzip
	FilterBzip2
	FilterXz
)

// String returns the filter name as understood by 7-Zip's -t switch.
func (f Filter) String() string {
	switch f {
	case FilterGzip:
		return "gzip"
	case FilterBzip2:
		return "bzip2"
	case FilterXz:
		return "xz"
	default:
		return "none"
	}
}

var archiveExt = regexp.MustCompile(`(?i)(\.part\d+)?\.(zip|rar|7z|tar|tgz|tbz2|txz|tar\.gz|tar\.bz2|tar\.xz)$`)

// SuggestedName derives an output file name from the input name, replacing
// a known archive extension (and any ".partN" volume marker) with the
// extension of f.
func SuggestedName(input string, f Format) string {
	base := pathutil.Base(strings.ReplaceAll(input, `\`, "/"))
	base = archiveExt.ReplaceAllString(base, "")
	if base == "" || base == "." {
		base = "archive"
	}
	return base + f.Extension()
}
