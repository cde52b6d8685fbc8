package staging

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/repack/internal/jobtype"
)

type backendCase struct {
	name string
	open func(t *testing.T) *Filesystem
}

func backends() []backendCase {
	return []backendCase{
		{name: "memory", open: func(t *testing.T) *Filesystem {
			t.Helper()
			f, err := Open(WithPreferMemory(true))
			require.NoError(t, err)
			return f
		}},
		{name: "disk", open: func(t *testing.T) *Filesystem {
			t.Helper()
			f, err := Open(WithDir(t.TempDir()))
			require.NoError(t, err)
			require.Equal(t, BackendDisk, f.Backend())
			t.Cleanup(func() { _ = f.Close() })
			return f
		}},
	}
}

func TestMountUnique(t *testing.T) {
	t.Parallel()

	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			t.Parallel()
			f := bc.open(t)

			a, err := f.Mount(context.Background())
			require.NoError(t, err)
			b, err := f.Mount(context.Background())
			require.NoError(t, err)

			assert.NotEqual(t, a.Name(), b.Name())
			assert.True(t, strings.HasPrefix(a.Name(), MountPrefix))

			mounted, err := f.Mounted()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{a.Name(), b.Name()}, mounted)
		})
	}
}

func TestTreeWriteReadStats(t *testing.T) {
	t.Parallel()

	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			tree, err := bc.open(t).Mount(ctx)
			require.NoError(t, err)

			src, err := tree.Sub("src")
			require.NoError(t, err)

			n, err := src.WriteFile(ctx, "a.txt", strings.NewReader("hi"), 0o644, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
			_, err = src.WriteFile(ctx, "b/c.txt", strings.NewReader("yo!"), 0, nil)
			require.NoError(t, err)
			require.NoError(t, src.MkdirAll("d"))

			got, err := src.ReadFile("b/c.txt", 0)
			require.NoError(t, err)
			assert.Equal(t, "yo!", string(got))

			st, err := src.Stats("")
			require.NoError(t, err)
			assert.Equal(t, Stats{Files: 2, Bytes: 5}, st)

			var seen []string
			require.NoError(t, src.Walk("", func(rel string, _ fs.FileInfo) error {
				seen = append(seen, rel)
				return nil
			}))
			assert.Equal(t, []string{"a.txt", "b", "b/c.txt", "d"}, seen)
		})
	}
}

func TestTreeWriteKeepsSourceMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mode fs.FileMode
		want fs.FileMode
	}{
		{name: "read only", mode: 0o444, want: 0o444},
		{name: "executable", mode: 0o755, want: 0o755},
		{name: "default", mode: 0, want: 0o644},
		{name: "owner unreadable", mode: 0o200, want: 0o600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f, err := Open(WithDir(t.TempDir()))
			require.NoError(t, err)
			t.Cleanup(func() { _ = f.Close() })
			tree, err := f.Mount(ctx)
			require.NoError(t, err)

			_, err = tree.WriteFile(ctx, "f", strings.NewReader("data"), tt.mode, nil)
			require.NoError(t, err)

			info, err := tree.Stat("f")
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Mode().Perm())

			got, err := tree.ReadFile("f", 0)
			require.NoError(t, err)
			assert.Equal(t, "data", string(got))
		})
	}
}

func TestTreeWriteSanitizesTraversal(t *testing.T) {
	t.Parallel()

	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := bc.open(t)
			tree, err := f.Mount(ctx)
			require.NoError(t, err)

			_, err = tree.WriteFile(ctx, "../../etc/passwd", strings.NewReader("x"), 0o644, nil)
			require.NoError(t, err)
			_, err = tree.WriteFile(ctx, "/abs.txt", strings.NewReader("y"), 0o644, nil)
			require.NoError(t, err)

			got, err := tree.ReadFile("etc/passwd", 0)
			require.NoError(t, err)
			assert.Equal(t, "x", string(got))

			_, err = tree.WriteFile(ctx, "../..", strings.NewReader("z"), 0o644, nil)
			require.ErrorIs(t, err, ErrInvalidPath)

			// Nothing outside the job subtree.
			mounted, err := f.Mounted()
			require.NoError(t, err)
			assert.Equal(t, []string{tree.Name()}, mounted)
			if dir := f.Dir(); dir != "" {
				_, err := os.Stat(filepath.Join(dir, "etc"))
				assert.True(t, os.IsNotExist(err))
			}
		})
	}
}

func TestTreeReadFileLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, err := Open(WithPreferMemory(true))
	require.NoError(t, err)
	tree, err := f.Mount(ctx)
	require.NoError(t, err)

	_, err = tree.WriteFile(ctx, "big", strings.NewReader(strings.Repeat("x", 100)), 0o644, nil)
	require.NoError(t, err)

	_, err = tree.ReadFile("big", 10)
	require.ErrorIs(t, err, jobtype.ErrOutputTooLarge)
}

func TestTreeClearAndRelease(t *testing.T) {
	t.Parallel()

	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := bc.open(t)
			tree, err := f.Mount(ctx)
			require.NoError(t, err)

			_, err = tree.WriteFile(ctx, "x/y.txt", strings.NewReader("data"), 0o644, nil)
			require.NoError(t, err)

			require.NoError(t, tree.Clear())
			st, err := tree.Stats("")
			require.NoError(t, err)
			assert.Zero(t, st.Files)

			require.NoError(t, tree.Release())
			require.NoError(t, tree.Release())

			mounted, err := f.Mounted()
			require.NoError(t, err)
			assert.Empty(t, mounted)

			_, err = tree.WriteFile(ctx, "late", strings.NewReader("x"), 0o644, nil)
			require.ErrorIs(t, err, ErrReleased)
		})
	}
}

func TestLocalDir(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	f, err := Open(WithDir(dir))
	require.NoError(t, err)
	defer f.Close()

	tree, err := f.Mount(ctx)
	require.NoError(t, err)
	src, err := tree.Sub("src")
	require.NoError(t, err)

	local, ok := src.LocalDir()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(f.Dir(), tree.Name(), "src"), local)

	_, err = src.WriteFile(ctx, "f.txt", strings.NewReader("on disk"), 0o644, nil)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(local, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(got))

	mem, err := Open(WithPreferMemory(true))
	require.NoError(t, err)
	memTree, err := mem.Mount(ctx)
	require.NoError(t, err)
	_, ok = memTree.LocalDir()
	assert.False(t, ok)
}

func TestOpenLockedFallsBackToMemory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := Open(WithDir(dir))
	require.NoError(t, err)
	defer first.Close()
	require.Equal(t, BackendDisk, first.Backend())

	second, err := Open(WithDir(dir))
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, second.Backend())
	assert.Empty(t, second.Dir())
}

func TestSweepRemovesStaleSubtrees(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	f, err := Open(WithDir(dir))
	require.NoError(t, err)
	defer f.Close()

	stale, err := f.Mount(ctx)
	require.NoError(t, err)
	fresh, err := f.Mount(ctx)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(f.Dir(), stale.Name()), old, old))

	res := f.Sweep(time.Hour)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{filepath.Join(f.Dir(), stale.Name())}, res.Removed)

	mounted, err := f.Mounted()
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.Name()}, mounted)
}

func TestSweepMemoryIsNoop(t *testing.T) {
	t.Parallel()

	f, err := Open(WithPreferMemory(true))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, f.Sweep(0))
}
