// Package sniff classifies archive buffers by their leading magic bytes.
package sniff

import (
	"bytes"
	"fmt"

	"github.com/meigma/repack/internal/jobtype"
)

// Kind is the container type identified from magic bytes.
type Kind uint8

// Recognized kinds. Gzip, Bzip2, Xz, Zstd and Tar are informational: they only
// refine logging and engine hints and never change routing.
const (
	Unknown Kind = iota
	RAR4
	RAR5
	SevenZip
	Zip
	Gzip
	Bzip2
	Xz
	Zstd
	Tar
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case RAR4:
		return "rar4"
	case RAR5:
		return "rar5"
	case SevenZip:
		return "7z"
	case Zip:
		return "zip"
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case Xz:
		return "xz"
	case Zstd:
		return "zstd"
	case Tar:
		return "tar"
	default:
		return "unknown"
	}
}

// MinBytes is the number of leading bytes needed to tell every kind apart.
const MinBytes = 8

// tarMagicOffset is where the ustar magic lives in a TAR header block.
const tarMagicOffset = 257

type magic struct {
	kind   Kind
	offset int
	bytes  []byte
}

// signatures are checked in order. RAR5 precedes RAR4 so the longer
// signature is always preferred.
var signatures = []magic{
	{kind: RAR5, bytes: []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00}},
	{kind: RAR4, bytes: []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}},
	{kind: SevenZip, bytes: []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}},
	{kind: Zip, bytes: []byte{0x50, 0x4B}},
	{kind: Gzip, bytes: []byte{0x1F, 0x8B}},
	{kind: Bzip2, bytes: []byte{'B', 'Z', 'h'}},
	{kind: Xz, bytes: []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}},
	{kind: Zstd, bytes: []byte{0x28, 0xB5, 0x2F, 0xFD}},
	{kind: Tar, offset: tarMagicOffset, bytes: []byte("ustar")},
}

// Signature is the result of sniffing a buffer.
type Signature struct {
	// Kind is the best-matching container type.
	Kind Kind

	// Evidence holds the bytes that matched, or the leading bytes of the
	// buffer (up to MinBytes) when nothing matched.
	Evidence []byte
}

// Detect returns the best-matching signature for b by exact byte comparison.
func Detect(b []byte) Signature {
	for _, sig := range signatures {
		end := sig.offset + len(sig.bytes)
		if len(b) < end {
			continue
		}
		if bytes.Equal(b[sig.offset:end], sig.bytes) {
			return Signature{Kind: sig.kind, Evidence: bytes.Clone(b[sig.offset:end])}
		}
	}
	n := min(len(b), MinBytes)
	return Signature{Kind: Unknown, Evidence: bytes.Clone(b[:n])}
}

// Reject returns ErrUnsupportedFormat for inputs that must never reach
// extraction, and nil otherwise.
func (s Signature) Reject() error {
	if s.Kind == RAR5 {
		return fmt.Errorf("%w: RAR v5 archives are not supported", jobtype.ErrUnsupportedFormat)
	}
	return nil
}

// String formats the signature for logs.
func (s Signature) String() string {
	return fmt.Sprintf("%s [% x]", s.Kind, s.Evidence)
}
