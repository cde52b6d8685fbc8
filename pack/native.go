package pack

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"

	"github.com/meigma/repack/format"
	"github.com/meigma/repack/internal/file"
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/internal/platform"
	"github.com/meigma/repack/progress"
	"github.com/meigma/repack/staging"
)

// NativePacker writes ZIP and the TAR family in process. It cannot write 7z.
type NativePacker struct{}

// Name implements Packer.
func (*NativePacker) Name() string {
	return "native"
}

// Pack implements Packer.
func (n *NativePacker) Pack(ctx context.Context, in Input, report progress.LocalFunc) (string, error) {
	name := OutputName(in.Format)
	switch in.Format {
	case format.Zip:
		return name, n.writeZip(ctx, in, name, report)
	case format.Tar:
		return name, n.writeTar(ctx, in, name, report)
	case format.TarGz, format.TarBz2, format.TarXz:
		if err := n.writeTar(ctx, in, tarStepName, scale(report, 0, 0.5)); err != nil {
			return "", err
		}
		err := n.compress(ctx, in, tarStepName, name, scale(report, 0.5, 1))
		if rmErr := in.Out.Remove(tarStepName); rmErr != nil && err == nil {
			err = fmt.Errorf("remove intermediate tar: %w", rmErr)
		}
		return name, err
	case format.SevenZip:
		return "", fmt.Errorf("%w: the native packer cannot write 7z", jobtype.ErrEngineUnavailable)
	case format.Invalid:
		return "", fmt.Errorf("%w: %s", jobtype.ErrUnsupportedFormat, in.Format)
	default:
		return "", fmt.Errorf("%w: %s", jobtype.ErrUnsupportedFormat, in.Format)
	}
}

func (n *NativePacker) writeZip(ctx context.Context, in Input, name string, report progress.LocalFunc) (err error) {
	out, err := in.Out.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	level := deflateLevel(in.Params.Level)
	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	bp := &byteProgress{total: in.Stats.Bytes, report: report}
	buf := make([]byte, file.DefaultBufferSize)
	err = in.Src.Walk("", func(rel string, info fs.FileInfo) error {
		switch {
		case info.IsDir():
			hdr := &zip.FileHeader{Name: rel + "/", Method: zip.Store, Modified: info.ModTime()}
			hdr.SetMode(fs.ModeDir | dirPerm(info))
			_, err := zw.CreateHeader(hdr)
			return err
		case info.Mode().IsRegular():
			hdr := &zip.FileHeader{Name: rel, Method: zip.Deflate, Modified: info.ModTime()}
			hdr.SetMode(filePerm(info))
			w, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			return bp.copy(ctx, w, in.Src, rel, buf)
		default:
			return nil
		}
	})
	if err != nil {
		_ = zw.Close() //nolint:errcheck // primary error wins
		return err
	}
	return zw.Close()
}

func (n *NativePacker) writeTar(ctx context.Context, in Input, name string, report progress.LocalFunc) (err error) {
	out, err := in.Out.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	tw := tar.NewWriter(out)
	bp := &byteProgress{total: in.Stats.Bytes, report: report}
	buf := make([]byte, file.DefaultBufferSize)
	err = in.Src.Walk("", func(rel string, info fs.FileInfo) error {
		uid, gid := platform.FileOwner(info)
		hdr := &tar.Header{
			Name:    rel,
			ModTime: info.ModTime().Truncate(time.Second),
			Uid:     uid,
			Gid:     gid,
			Format:  tar.FormatPAX,
		}
		switch {
		case info.IsDir():
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
			hdr.Mode = int64(dirPerm(info))
			return tw.WriteHeader(hdr)
		case info.Mode().IsRegular():
			hdr.Typeflag = tar.TypeReg
			hdr.Mode = int64(filePerm(info))
			hdr.Size = info.Size()
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			return bp.copy(ctx, tw, in.Src, rel, buf)
		default:
			return nil
		}
	})
	if err != nil {
		_ = tw.Close() //nolint:errcheck // primary error wins
		return err
	}
	return tw.Close()
}

// compress applies the format's filter to the TAR at tarName.
func (n *NativePacker) compress(ctx context.Context, in Input, tarName, name string, report progress.LocalFunc) (err error) {
	info, err := in.Out.Stat(tarName)
	if err != nil {
		return fmt.Errorf("stat %s: %w", tarName, err)
	}
	src, err := in.Out.Open(tarName)
	if err != nil {
		return fmt.Errorf("open %s: %w", tarName, err)
	}
	defer src.Close()

	out, err := in.Out.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	w, err := newCompressor(out, in.Format.Filter(), in.Params)
	if err != nil {
		return err
	}
	total := info.Size()
	cw := &file.CountingWriter{W: w, OnWrite: func(done int64) {
		if total > 0 {
			report(float64(done) / float64(total))
		}
	}}
	if _, err := file.CopyWithContext(ctx, cw, src, nil); err != nil {
		_ = w.Close() //nolint:errcheck // primary error wins
		return err
	}
	return w.Close()
}

func newCompressor(w io.Writer, filter format.Filter, p Params) (io.WriteCloser, error) {
	switch filter {
	case format.FilterGzip:
		level := gzip.DefaultCompression
		if p.Level > 0 {
			level = min(p.Level, gzip.BestCompression)
		}
		return gzip.NewWriterLevel(w, level)
	case format.FilterBzip2:
		level := bzip2.DefaultCompression
		if p.Level > 0 {
			level = min(p.Level, bzip2.BestCompression)
		}
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
	case format.FilterXz:
		cfg := xz.WriterConfig{}
		if p.DictBytes > 0 {
			cfg.DictCap = int(p.DictBytes)
		}
		return cfg.NewWriter(w)
	case format.FilterNone:
		return nil, fmt.Errorf("%w: no compression filter", jobtype.ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: filter %s", jobtype.ErrUnsupportedFormat, filter)
	}
}

func deflateLevel(level int) int {
	if level <= 0 {
		return flate.DefaultCompression
	}
	return min(level, flate.BestCompression)
}

func filePerm(info fs.FileInfo) fs.FileMode {
	if perm := info.Mode().Perm(); perm != 0 {
		return perm
	}
	return 0o644
}

func dirPerm(info fs.FileInfo) fs.FileMode {
	if perm := info.Mode().Perm(); perm != 0 {
		return perm
	}
	return 0o755
}

// byteProgress reports staged bytes copied so far against the tree total.
type byteProgress struct {
	total  int64
	done   int64
	report progress.LocalFunc
}

func (b *byteProgress) copy(ctx context.Context, w io.Writer, src *staging.Tree, rel string, buf []byte) error {
	f, err := src.Open(rel)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	base := b.done
	cw := &file.CountingWriter{W: w, OnWrite: func(n int64) {
		if b.total > 0 {
			b.report(float64(base+n) / float64(b.total))
		}
	}}
	n, err := file.CopyWithContext(ctx, cw, f, buf)
	b.done = base + n
	if err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// scale maps a step's local [0, 1] onto [lo, hi] of report.
func scale(report progress.LocalFunc, lo, hi float64) progress.LocalFunc {
	return func(r float64) {
		report(lo + r*(hi-lo))
	}
}
