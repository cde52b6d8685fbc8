// Package testutil builds archive fixtures for tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"io"
	"io/fs"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	cryptozip "github.com/yeka/zip"

	"github.com/meigma/repack/format"
)

// Entry describes one archive member. Names ending in "/" are directories.
type Entry struct {
	Name string
	Body string
	Mode fs.FileMode
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// Example returns the three-entry tree used across the pipeline tests:
// a.txt, b/c.txt and the empty directory d/.
func Example() []Entry {
	return []Entry{
		{Name: "a.txt", Body: "hi"},
		{Name: "b/c.txt", Body: "yo"},
		{Name: "d/"},
	}
}

var fixtureTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// Zip builds a ZIP archive from entries.
func Zip(t testing.TB, entries []Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate, Modified: fixtureTime}
		if e.IsDir() {
			hdr.Method = zip.Store
			hdr.SetMode(fs.ModeDir | 0o755)
		} else {
			hdr.SetMode(modeOr(e.Mode, 0o644))
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		if !e.IsDir() {
			_, err = io.WriteString(w, e.Body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// ZipCipher selects how EncryptedZip protects entries.
type ZipCipher uint8

// Ciphers understood by EncryptedZip.
const (
	ZipCrypto ZipCipher = iota
	ZipAES256
)

// EncryptedZip builds a ZIP from entries with every file encrypted under
// password. Directories are stored unencrypted.
func EncryptedZip(t testing.TB, entries []Entry, password string, cipher ZipCipher) []byte {
	t.Helper()

	method := cryptozip.StandardEncryption
	if cipher == ZipAES256 {
		method = cryptozip.AES256Encryption
	}

	var buf bytes.Buffer
	zw := cryptozip.NewWriter(&buf)
	for _, e := range entries {
		if e.IsDir() {
			_, err := zw.Create(e.Name)
			require.NoError(t, err)
			continue
		}
		w, err := zw.Encrypt(e.Name, password, method)
		require.NoError(t, err)
		_, err = io.WriteString(w, e.Body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Tar builds a TAR archive from entries and applies filter to it.
func Tar(t testing.TB, entries []Entry, filter format.Filter) []byte {
	t.Helper()

	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, ModTime: fixtureTime, Format: tar.FormatPAX}
		if e.IsDir() {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Mode = int64(modeOr(e.Mode, 0o644))
			hdr.Size = int64(len(e.Body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.IsDir() {
			_, err := io.WriteString(tw, e.Body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	return Compress(t, raw.Bytes(), filter)
}

// Compress applies filter to data.
func Compress(t testing.TB, data []byte, filter format.Filter) []byte {
	t.Helper()

	var out bytes.Buffer
	var w io.WriteCloser
	var err error
	switch filter {
	case format.FilterNone:
		return data
	case format.FilterGzip:
		w = gzip.NewWriter(&out)
	case format.FilterBzip2:
		w, err = bzip2.NewWriter(&out, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	case format.FilterXz:
		w, err = xz.NewWriter(&out)
	default:
		t.Fatalf("unknown filter %v", filter)
	}
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return out.Bytes()
}

// TarZstd builds a zstd-compressed TAR archive.
func TarZstd(t testing.TB, entries []Entry) []byte {
	t.Helper()

	var out bytes.Buffer
	zw, err := zstd.NewWriter(&out)
	require.NoError(t, err)
	_, err = zw.Write(Tar(t, entries, format.FilterNone))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return out.Bytes()
}

// Decompress reverses Compress.
func Decompress(t testing.TB, data []byte, filter format.Filter) []byte {
	t.Helper()

	var r io.Reader
	var err error
	switch filter {
	case format.FilterNone:
		return data
	case format.FilterGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
	case format.FilterBzip2:
		r, err = bzip2.NewReader(bytes.NewReader(data), nil)
	case format.FilterXz:
		r, err = xz.NewReader(bytes.NewReader(data))
	default:
		t.Fatalf("unknown filter %v", filter)
	}
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

// ListZip returns the entries of a ZIP archive keyed by name. Directory
// names keep their trailing slash and map to "".
func ListZip(t testing.TB, data []byte) map[string]string {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	got := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			got[strings.TrimSuffix(f.Name, "/")+"/"] = ""
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		got[f.Name] = string(body)
	}
	return got
}

// ListTar returns the entries of a filtered TAR archive, in the same shape
// as ListZip.
func ListTar(t testing.TB, data []byte, filter format.Filter) map[string]string {
	t.Helper()

	tr := tar.NewReader(bytes.NewReader(Decompress(t, data, filter)))
	got := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		name := strings.TrimPrefix(hdr.Name, "./")
		switch hdr.Typeflag {
		case tar.TypeDir:
			if name == "" || name == "." {
				continue
			}
			got[strings.TrimSuffix(name, "/")+"/"] = ""
		case tar.TypeReg:
			body, err := io.ReadAll(tr)
			require.NoError(t, err)
			got[name] = string(body)
		}
	}
	return got
}

// Expect converts entries to the map shape returned by ListZip and ListTar.
// Parent directories of nested files are added when withParents is set.
func Expect(entries []Entry, withParents bool) map[string]string {
	got := make(map[string]string, len(entries))
	for _, e := range entries {
		got[e.Name] = e.Body
		if !withParents {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(e.Name, "/"), "/")
		for i := 1; i < len(parts); i++ {
			got[strings.Join(parts[:i], "/")+"/"] = ""
		}
	}
	return got
}

// Names returns the sorted keys of m.
func Names(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func modeOr(m, def fs.FileMode) fs.FileMode {
	if m.Perm() == 0 {
		return def
	}
	return m.Perm()
}
