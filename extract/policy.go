package extract

import (
	"fmt"
	"strings"

	"github.com/meigma/repack/internal/sniff"
)

// Policy decides which engine runs first.
type Policy uint8

const (
	// PreferBySignature runs the stream engine first for RAR4 input and the
	// archiver first for everything else.
	PreferBySignature Policy = iota

	// PreferArchiver always runs the archiver first.
	PreferArchiver

	// PreferStream always runs the stream engine first.
	PreferStream
)

// ParsePolicy parses "signature", "archiver" or "stream".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "signature":
		return PreferBySignature, nil
	case "archiver":
		return PreferArchiver, nil
	case "stream":
		return PreferStream, nil
	default:
		return PreferBySignature, fmt.Errorf("extract: unknown policy %q", s)
	}
}

// String returns the string representation of the policy.
func (p Policy) String() string {
	switch p {
	case PreferBySignature:
		return "signature"
	case PreferArchiver:
		return "archiver"
	case PreferStream:
		return "stream"
	default:
		return "unknown"
	}
}

// order returns the engines to try, preferred first. Nil engines are left out.
func (p Policy) order(sig sniff.Signature, archiver, stream Engine) []Engine {
	first, second := archiver, stream
	switch p {
	case PreferStream:
		first, second = stream, archiver
	case PreferBySignature:
		if sig.Kind == sniff.RAR4 {
			first, second = stream, archiver
		}
	case PreferArchiver:
	}
	out := make([]Engine, 0, 2)
	for _, e := range []Engine{first, second} {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
