package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mholt/archives"
)

// StreamEngine identifies the container from the stream itself and walks
// its entries in order. The entry total is never known in advance.
type StreamEngine struct{}

// Name implements Engine.
func (StreamEngine) Name() string {
	return "stream"
}

// Extract implements Engine.
func (StreamEngine) Extract(ctx context.Context, src Source, dst Sink, report ReportFunc) error {
	f, _, err := archives.Identify(ctx, "", bytes.NewReader(src.Data))
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	ex, ok := withPassword(f, src.Password).(archives.Extractor)
	if !ok {
		return fmt.Errorf("%w: %s input is not an archive", ErrUnrecognized, f.Extension())
	}

	done := 0
	return ex.Extract(ctx, bytes.NewReader(src.Data), func(ctx context.Context, fi archives.FileInfo) error {
		defer func() {
			done++
			report(done, 0)
		}()
		switch {
		case fi.IsDir():
			return dst.MkdirAll(fi.NameInArchive)
		case fi.LinkTarget != "" || !fi.Mode().IsRegular():
			skip(dst, fi.NameInArchive, "not a regular file")
			return nil
		}
		rc, err := fi.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", fi.NameInArchive, err)
		}
		defer rc.Close()
		_, err = dst.WriteFile(ctx, fi.NameInArchive, rc, fi.Mode(), nil)
		return err
	})
}

// withPassword returns f with the password applied for formats that
// support encryption.
func withPassword(f archives.Format, password string) archives.Format {
	if password == "" {
		return f
	}
	switch v := f.(type) {
	case archives.Rar:
		v.Password = password
		return v
	case *archives.Rar:
		c := *v
		c.Password = password
		return c
	case archives.SevenZip:
		v.Password = password
		return v
	case *archives.SevenZip:
		c := *v
		c.Password = password
		return c
	default:
		return f
	}
}
