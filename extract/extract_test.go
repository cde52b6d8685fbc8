package extract

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/repack/format"
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/internal/sniff"
	"github.com/meigma/repack/internal/testutil"
	"github.com/meigma/repack/staging"
)

func newTree(t *testing.T) *staging.Tree {
	t.Helper()
	f, err := staging.Open(staging.WithPreferMemory(true))
	require.NoError(t, err)
	tree, err := f.Mount(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Release() })
	return tree
}

// staged lists the tree in the map shape used by testutil.
func staged(t *testing.T, tree *staging.Tree) map[string]string {
	t.Helper()
	got := make(map[string]string)
	require.NoError(t, tree.Walk("", func(rel string, info fs.FileInfo) error {
		if info.IsDir() {
			got[rel+"/"] = ""
			return nil
		}
		body, err := tree.ReadFile(rel, 0)
		if err != nil {
			return err
		}
		got[rel] = string(body)
		return nil
	}))
	return got
}

func source(data []byte) Source {
	return Source{Data: data, Signature: sniff.Detect(data)}
}

type fakeEngine struct {
	name string
	fn   func(ctx context.Context, dst Sink) error

	mu    sync.Mutex
	calls int
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Extract(ctx context.Context, _ Source, dst Sink, report ReportFunc) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	report(0, 2)
	return f.fn(ctx, dst)
}

func (f *fakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func writeOne(ctx context.Context, dst Sink) error {
	_, err := dst.WriteFile(ctx, "ok.txt", strings.NewReader("ok"), 0o644, nil)
	return err
}

func TestExtractFormats(t *testing.T) {
	t.Parallel()

	entries := testutil.Example()
	want := testutil.Expect(entries, true)

	tests := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{name: "zip", data: func(t *testing.T) []byte { return testutil.Zip(t, entries) }},
		{name: "tar", data: func(t *testing.T) []byte { return testutil.Tar(t, entries, format.FilterNone) }},
		{name: "tar.gz", data: func(t *testing.T) []byte { return testutil.Tar(t, entries, format.FilterGzip) }},
		{name: "tar.bz2", data: func(t *testing.T) []byte { return testutil.Tar(t, entries, format.FilterBzip2) }},
		{name: "tar.xz", data: func(t *testing.T) []byte { return testutil.Tar(t, entries, format.FilterXz) }},
		{name: "tar.zst", data: func(t *testing.T) []byte { return testutil.TarZstd(t, entries) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tree := newTree(t)

			var ratios []float64
			st, err := New().Extract(context.Background(), source(tt.data(t)), tree, func(r float64) {
				ratios = append(ratios, r)
			})
			require.NoError(t, err)

			assert.Equal(t, "archiver", st.Engine)
			assert.False(t, st.Fallback)
			assert.Equal(t, 2, st.Files)
			assert.Equal(t, int64(4), st.Bytes)
			assert.Equal(t, want, staged(t, tree))
			require.NotEmpty(t, ratios)
			assert.InDelta(t, 1.0, ratios[len(ratios)-1], 1e-9)
		})
	}
}

func TestStreamEngine(t *testing.T) {
	t.Parallel()

	entries := testutil.Example()
	for _, data := range [][]byte{
		testutil.Zip(t, entries),
		testutil.Tar(t, entries, format.FilterGzip),
	} {
		tree := newTree(t)
		st, err := New(WithPolicy(PreferStream)).Extract(context.Background(), source(data), tree, nil)
		require.NoError(t, err)
		assert.Equal(t, "stream", st.Engine)
		assert.Equal(t, testutil.Expect(entries, true), staged(t, tree))
	}
}

func TestExtractSanitizesTraversal(t *testing.T) {
	t.Parallel()

	data := testutil.Tar(t, []testutil.Entry{
		{Name: "../../etc/passwd", Body: "root"},
		{Name: "/abs/file", Body: "x"},
		{Name: "../"},
	}, format.FilterNone)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tree := newTree(t)
	st, err := New(WithLogger(logger)).Extract(context.Background(), source(data), tree, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, st.Skipped)
	assert.Contains(t, logs.String(), "archive entry path rewritten")
	assert.Contains(t, logs.String(), "path=etc/passwd")
	got := staged(t, tree)
	assert.Equal(t, map[string]string{
		"etc/":       "",
		"etc/passwd": "root",
		"abs/":       "",
		"abs/file":   "x",
	}, got)
	for name := range got {
		assert.False(t, strings.HasPrefix(name, ".."), name)
		assert.False(t, strings.HasPrefix(name, "/"), name)
	}
}

func TestExtractEmptyArchive(t *testing.T) {
	t.Parallel()

	for _, data := range [][]byte{
		testutil.Zip(t, nil),
		testutil.Tar(t, nil, format.FilterGzip),
	} {
		_, err := New().Extract(context.Background(), source(data), newTree(t), nil)
		require.ErrorIs(t, err, jobtype.ErrEmptyArchive)
	}
}

func TestExtractRejectsRAR5(t *testing.T) {
	t.Parallel()

	archiver := &fakeEngine{name: "a", fn: writeOne}
	data := []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00, 0, 0}
	_, err := New(WithEngines(archiver, nil)).Extract(context.Background(), source(data), newTree(t), nil)
	require.ErrorIs(t, err, jobtype.ErrUnsupportedFormat)
	assert.Zero(t, archiver.Calls())
}

func TestExtractGarbageFailsBothEngines(t *testing.T) {
	t.Parallel()

	_, err := New().Extract(context.Background(), source([]byte("definitely not an archive")), newTree(t), nil)
	require.ErrorIs(t, err, jobtype.ErrExtractionFailed)
	assert.Contains(t, err.Error(), "archiver")
	assert.Contains(t, err.Error(), "stream")
}

func TestFallbackClearsAndRetriesOnce(t *testing.T) {
	t.Parallel()

	errFirst := errors.New("first engine broke")
	first := &fakeEngine{name: "first", fn: func(ctx context.Context, dst Sink) error {
		if _, err := dst.WriteFile(ctx, "partial.bin", strings.NewReader("junk"), 0o644, nil); err != nil {
			return err
		}
		return errFirst
	}}
	second := &fakeEngine{name: "second", fn: writeOne}

	tree := newTree(t)
	st, err := New(WithEngines(first, second)).Extract(context.Background(), source([]byte("PK\x03\x04")), tree, nil)
	require.NoError(t, err)

	assert.Equal(t, "second", st.Engine)
	assert.True(t, st.Fallback)
	assert.Equal(t, 1, first.Calls())
	assert.Equal(t, 1, second.Calls())
	assert.Equal(t, map[string]string{"ok.txt": "ok"}, staged(t, tree))
}

func TestBothEnginesFail(t *testing.T) {
	t.Parallel()

	errA := errors.New("a failed")
	errB := errors.New("b failed")
	a := &fakeEngine{name: "a", fn: func(context.Context, Sink) error { return errA }}
	b := &fakeEngine{name: "b", fn: func(context.Context, Sink) error { return errB }}

	_, err := New(WithEngines(a, b)).Extract(context.Background(), source([]byte("PK")), newTree(t), nil)
	require.ErrorIs(t, err, jobtype.ErrExtractionFailed)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, b.Calls())
}

func TestPolicyOrder(t *testing.T) {
	t.Parallel()

	rar4 := []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00, 0x00}
	zip := []byte("PK\x03\x04xxxx")

	tests := []struct {
		name   string
		policy Policy
		data   []byte
		want   string
	}{
		{name: "signature zip", policy: PreferBySignature, data: zip, want: "archiver"},
		{name: "signature rar4", policy: PreferBySignature, data: rar4, want: "stream"},
		{name: "signature unknown", policy: PreferBySignature, data: []byte("????????"), want: "archiver"},
		{name: "archiver rar4", policy: PreferArchiver, data: rar4, want: "archiver"},
		{name: "stream zip", policy: PreferStream, data: zip, want: "stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			archiver := &fakeEngine{name: "archiver", fn: writeOne}
			stream := &fakeEngine{name: "stream", fn: writeOne}
			st, err := New(WithPolicy(tt.policy), WithEngines(archiver, stream)).
				Extract(context.Background(), source(tt.data), newTree(t), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.Engine)
			assert.False(t, st.Fallback)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	for _, p := range []Policy{PreferBySignature, PreferArchiver, PreferStream} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePolicy("random")
	require.Error(t, err)
}

func TestCancellationIsNotRetried(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancelCause(context.Background())
	a := &fakeEngine{name: "a", fn: func(ctx context.Context, dst Sink) error {
		cancel(jobtype.ErrCanceled)
		return writeOne(ctx, dst)
	}}
	b := &fakeEngine{name: "b", fn: writeOne}

	_, err := New(WithEngines(a, b)).Extract(ctx, source([]byte("PK")), newTree(t), nil)
	require.ErrorIs(t, err, jobtype.ErrCanceled)
	assert.Zero(t, b.Calls())
}

func TestLimits(t *testing.T) {
	t.Parallel()

	data := testutil.Zip(t, testutil.Example())
	stream := &fakeEngine{name: "stream", fn: writeOne}

	_, err := New(WithEngines(ArchiverEngine{}, stream), WithMaxEntries(1)).
		Extract(context.Background(), source(data), newTree(t), nil)
	require.ErrorIs(t, err, jobtype.ErrExtractionFailed)
	require.ErrorIs(t, err, ErrLimitExceeded)
	assert.Zero(t, stream.Calls())

	_, err = New(WithEngines(ArchiverEngine{}, stream), WithMaxTotalBytes(3)).
		Extract(context.Background(), source(data), newTree(t), nil)
	require.ErrorIs(t, err, ErrLimitExceeded)
}

func TestEnginePanicIsRecovered(t *testing.T) {
	t.Parallel()

	a := &fakeEngine{name: "a", fn: func(context.Context, Sink) error { panic("decoder exploded") }}
	b := &fakeEngine{name: "b", fn: writeOne}

	st, err := New(WithEngines(a, b)).Extract(context.Background(), source([]byte("PK")), newTree(t), nil)
	require.NoError(t, err)
	assert.True(t, st.Recovered)
	assert.Equal(t, "b", st.Engine)

	_, err = New(WithEngines(a, nil)).Extract(context.Background(), source([]byte("PK")), newTree(t), nil)
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "a", pe.Engine)
}

func TestEncryptedZip(t *testing.T) {
	t.Parallel()

	entries := testutil.Example()
	tests := []struct {
		name     string
		cipher   testutil.ZipCipher
		password string
		wantErr  error
	}{
		{name: "zipcrypto correct password", cipher: testutil.ZipCrypto, password: "secret"},
		{name: "aes correct password", cipher: testutil.ZipAES256, password: "secret"},
		{name: "zipcrypto missing password", cipher: testutil.ZipCrypto, wantErr: jobtype.ErrPasswordRequired},
		{name: "aes missing password", cipher: testutil.ZipAES256, wantErr: jobtype.ErrPasswordRequired},
		{name: "aes wrong password", cipher: testutil.ZipAES256, password: "guess", wantErr: jobtype.ErrPasswordRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := source(testutil.EncryptedZip(t, entries, "secret", tt.cipher))
			src.Password = tt.password
			tree := newTree(t)
			st, err := New(WithEngines(ArchiverEngine{}, nil)).Extract(context.Background(), src, tree, nil)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, jobtype.ErrExtractionFailed)
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2, st.Files)
			assert.Equal(t, testutil.Expect(entries, true), staged(t, tree))
		})
	}
}
