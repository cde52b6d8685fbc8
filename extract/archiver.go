package extract

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bodgit/sevenzip"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/nwaples/rardecode/v2"
	"github.com/ulikunitz/xz"
	cryptozip "github.com/yeka/zip"

	"github.com/meigma/repack/internal/file"
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/internal/sizing"
	"github.com/meigma/repack/internal/sniff"
)

// zipFlagEncrypted is bit 0 of the ZIP general purpose flags.
const zipFlagEncrypted = 0x1

// ArchiverEngine reads ZIP, 7z, RAR4 and the TAR family with random access
// where the container allows it. Encrypted ZIP entries are decrypted with
// Source.Password. The entry total is known for ZIP and 7z;
// TAR progress is reported in input bytes.
type ArchiverEngine struct{}

// Name implements Engine.
func (ArchiverEngine) Name() string {
	return "archiver"
}

// Extract implements Engine.
func (e ArchiverEngine) Extract(ctx context.Context, src Source, dst Sink, report ReportFunc) error {
	switch src.Signature.Kind {
	case sniff.Zip:
		return e.zip(ctx, src, dst, report)
	case sniff.SevenZip:
		return e.sevenZip(ctx, src, dst, report)
	case sniff.RAR4:
		return e.rar(ctx, src, dst, report)
	case sniff.Tar, sniff.Gzip, sniff.Bzip2, sniff.Xz, sniff.Zstd:
		return e.tar(ctx, src, dst, report)
	default:
		return fmt.Errorf("%w: no reader for %s input", ErrUnrecognized, src.Signature.Kind)
	}
}

func (e ArchiverEngine) zip(ctx context.Context, src Source, dst Sink, report ReportFunc) error {
	zr, err := zip.NewReader(bytes.NewReader(src.Data), int64(len(src.Data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if f.Flags&zipFlagEncrypted == 0 {
			continue
		}
		if src.Password == "" {
			return fmt.Errorf("%w: zip entry %q is encrypted", jobtype.ErrPasswordRequired, f.Name)
		}
		return e.encryptedZip(ctx, src, dst, report)
	}

	total := len(zr.File)
	for i, f := range zr.File {
		report(i, total)
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := dst.MkdirAll(f.Name); err != nil {
				return err
			}
		case !mode.IsRegular():
			skip(dst, f.Name, "not a regular file")
		default:
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", f.Name, err)
			}
			_, err = dst.WriteFile(ctx, f.Name, rc, mode, nil)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	report(total, total)
	return nil
}

// encryptedZip reads a ZIP holding ZipCrypto or WinZip AES entries. Any
// failure on an encrypted entry, other than limits and cancellation, is
// reported as a wrong password.
func (ArchiverEngine) encryptedZip(ctx context.Context, src Source, dst Sink, report ReportFunc) error {
	zr, err := cryptozip.NewReader(bytes.NewReader(src.Data), int64(len(src.Data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	total := len(zr.File)
	for i, f := range zr.File {
		report(i, total)
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := dst.MkdirAll(f.Name); err != nil {
				return err
			}
		case !mode.IsRegular():
			skip(dst, f.Name, "not a regular file")
		default:
			encrypted := f.IsEncrypted()
			if encrypted {
				f.SetPassword(src.Password)
			}
			rc, err := f.Open()
			if err == nil {
				_, err = dst.WriteFile(ctx, f.Name, rc, mode, nil)
				rc.Close()
			}
			if err == nil {
				continue
			}
			if !encrypted || ctx.Err() != nil || errors.Is(err, ErrLimitExceeded) {
				return err
			}
			return fmt.Errorf("%w: zip entry %q: wrong password: %w", jobtype.ErrPasswordRequired, f.Name, err)
		}
	}
	report(total, total)
	return nil
}

func (ArchiverEngine) sevenZip(ctx context.Context, src Source, dst Sink, report ReportFunc) error {
	ra := bytes.NewReader(src.Data)
	var (
		r   *sevenzip.Reader
		err error
	)
	if src.Password != "" {
		r, err = sevenzip.NewReaderWithPassword(ra, int64(len(src.Data)), src.Password)
	} else {
		r, err = sevenzip.NewReader(ra, int64(len(src.Data)))
	}
	if err != nil {
		return fmt.Errorf("open 7z: %w", err)
	}
	total := len(r.File)
	for i, f := range r.File {
		report(i, total)
		info := f.FileInfo()
		mode := info.Mode()
		switch {
		case info.IsDir():
			if err := dst.MkdirAll(f.Name); err != nil {
				return err
			}
		case !mode.IsRegular():
			skip(dst, f.Name, "not a regular file")
		default:
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", f.Name, err)
			}
			_, err = dst.WriteFile(ctx, f.Name, rc, mode, nil)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	report(total, total)
	return nil
}

func (ArchiverEngine) rar(ctx context.Context, src Source, dst Sink, report ReportFunc) error {
	var opts []rardecode.Option
	if src.Password != "" {
		opts = append(opts, rardecode.Password(src.Password))
	}
	rr, err := rardecode.NewReader(bytes.NewReader(src.Data), opts...)
	if err != nil {
		return fmt.Errorf("open rar: %w", err)
	}
	done := 0
	for {
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read rar: %w", err)
		}
		mode := hdr.Mode()
		switch {
		case hdr.IsDir:
			if err := dst.MkdirAll(hdr.Name); err != nil {
				return err
			}
		case !mode.IsRegular():
			skip(dst, hdr.Name, "not a regular file")
		default:
			if _, err := dst.WriteFile(ctx, hdr.Name, rr, mode, nil); err != nil {
				return err
			}
		}
		done++
		report(done, 0)
	}
}

func (ArchiverEngine) tar(ctx context.Context, src Source, dst Sink, report ReportFunc) error {
	// TAR has no central directory, so progress follows the input consumed.
	cr := &file.CountingReader{R: bytes.NewReader(src.Data)}
	r, closeFn, err := decompress(src.Signature.Kind, cr)
	if err != nil {
		return err
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := dst.MkdirAll(hdr.Name); err != nil {
				return err
			}
		case tar.TypeReg:
			if _, err := dst.WriteFile(ctx, hdr.Name, tr, hdr.FileInfo().Mode(), nil); err != nil {
				return err
			}
		default:
			skip(dst, hdr.Name, fmt.Sprintf("tar type %q", hdr.Typeflag))
		}
		done, err := sizing.ToInt(cr.N, jobtype.ErrSizeOverflow)
		if err != nil {
			return err
		}
		report(done, len(src.Data))
	}
}

// decompress wraps r with the reader for the single-stream compression
// identified by kind. Tar input is returned unchanged.
func decompress(kind sniff.Kind, r io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	switch kind {
	case sniff.Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("open gzip: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case sniff.Bzip2:
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, noop, fmt.Errorf("open bzip2: %w", err)
		}
		return br, func() { _ = br.Close() }, nil
	case sniff.Xz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("open xz: %w", err)
		}
		return xr, noop, nil
	case sniff.Zstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, noop, fmt.Errorf("open zstd: %w", err)
		}
		return zr, zr.Close, nil
	default:
		return r, noop, nil
	}
}
