// Package file provides context-aware stream copying and byte counting.
package file

import (
	"context"
	"io"
)

// DefaultBufferSize is the copy buffer size used when callers pass nil.
const DefaultBufferSize = 32 << 10

// CopyWithContext copies from src to dst until EOF or error, checking for
// context cancellation between reads. It returns the number of bytes written.
//
// buf is reused across calls by the engines to keep per-entry allocation flat;
// a nil buf allocates DefaultBufferSize bytes.
//
//nolint:gocognit // Follows stdlib io.Copy pattern; complexity is inherent to correct I/O handling
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if buf == nil {
		buf = make([]byte, DefaultBufferSize)
	}
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, context.Cause(ctx)
		}
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if ew != nil {
				return written, ew
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er == io.EOF {
				return written, nil
			}
			return written, er
		}
	}
}
