package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/meigma/repack/internal/file"
	"github.com/meigma/repack/internal/jobtype"
	"github.com/meigma/repack/internal/pathutil"
	"github.com/meigma/repack/internal/sizing"
)

// ErrInvalidPath is returned when a path sanitizes to nothing.
var ErrInvalidPath = errors.New("staging: invalid path")

// ErrReleased is returned by operations on a released tree.
var ErrReleased = errors.New("staging: tree released")

// Stats summarizes the regular files below a directory.
type Stats struct {
	// Files is the number of regular files.
	Files int64

	// Bytes is the sum of regular file sizes.
	Bytes int64
}

// Tree is one job's staging subtree, or a directory inside it.
//
// Paths passed to Tree methods are slash-separated and relative to the tree.
// They are sanitized before use, so "../x" and "/x" both resolve to "x".
type Tree struct {
	fs     billy.Filesystem
	root   string // job subtree name, shared by sub-trees
	prefix string // this tree's directory inside fs
	owner  *Filesystem

	mu       sync.Mutex
	released bool
}

// Name returns the job subtree name (e.g. "conv-1f2e...").
func (t *Tree) Name() string {
	return t.root
}

// Backend reports which storage holds the tree.
func (t *Tree) Backend() Backend {
	return t.owner.backend
}

// Sub returns a tree rooted at dir inside t, creating dir if needed.
// Releasing the parent also removes every sub-tree.
func (t *Tree) Sub(dir string) (*Tree, error) {
	clean := pathutil.Sanitize(dir)
	if clean == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, dir)
	}
	sub := &Tree{fs: t.fs, root: t.root, prefix: path.Join(t.prefix, clean), owner: t.owner}
	if err := t.fs.MkdirAll(sub.prefix, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", clean, err)
	}
	return sub, nil
}

// LocalDir returns the host directory backing the tree. ok is false for the
// memory backend.
func (t *Tree) LocalDir() (dir string, ok bool) {
	if t.owner.backend != BackendDisk {
		return "", false
	}
	return filepath.Join(t.owner.dir, filepath.FromSlash(t.prefix)), true
}

// MkdirAll creates a directory and any missing parents.
func (t *Tree) MkdirAll(p string) error {
	full, err := t.resolve(p)
	if err != nil {
		return err
	}
	return t.fs.MkdirAll(full, 0o755)
}

// WriteFile streams r into the file at p, creating parent directories.
// Only the permission bits of mode are applied (plus owner read); zero means
// 0o644.
// It returns the number of bytes written.
func (t *Tree) WriteFile(ctx context.Context, p string, r io.Reader, mode fs.FileMode, buf []byte) (int64, error) {
	full, err := t.resolve(p)
	if err != nil {
		return 0, err
	}
	if dir := path.Dir(full); dir != "." {
		if err := t.fs.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("mkdir %s: %w", pathutil.Dir(p), err)
		}
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}

	// The file is written owner read/write, then narrowed back to the source
	// mode plus owner read so packing can open it and still records the
	// original bits.
	f, err := t.fs.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", p, err)
	}
	n, err := file.CopyWithContext(ctx, f, r, buf)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", p, err)
	}
	if err := t.chmod(full, perm|0o400); err != nil {
		return n, fmt.Errorf("chmod %s: %w", p, err)
	}
	return n, nil
}

func (t *Tree) chmod(full string, perm fs.FileMode) error {
	ch, ok := t.fs.(billy.Change)
	if !ok {
		return nil
	}
	if err := ch.Chmod(full, perm); err != nil && !errors.Is(err, billy.ErrNotSupported) {
		return err
	}
	return nil
}

// Create opens a new file for writing at p, creating parent directories.
func (t *Tree) Create(p string) (billy.File, error) {
	full, err := t.resolve(p)
	if err != nil {
		return nil, err
	}
	if dir := path.Dir(full); dir != "." {
		if err := t.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return t.fs.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
}

// Open opens the file at p for reading.
func (t *Tree) Open(p string) (billy.File, error) {
	full, err := t.resolve(p)
	if err != nil {
		return nil, err
	}
	return t.fs.Open(full)
}

// Stat returns file info for p without following symlinks.
func (t *Tree) Stat(p string) (fs.FileInfo, error) {
	full, err := t.resolveAllowRoot(p)
	if err != nil {
		return nil, err
	}
	return t.fs.Lstat(full)
}

// ReadFile reads the whole file at p. A positive limit caps the size;
// larger files return ErrOutputTooLarge.
func (t *Tree) ReadFile(p string, limit int64) ([]byte, error) {
	f, err := t.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return sizing.ReadAllWithLimit(f, limit, jobtype.ErrOutputTooLarge)
}

// Remove deletes p and everything below it. Removing a missing path is not
// an error.
func (t *Tree) Remove(p string) error {
	full, err := t.resolve(p)
	if err != nil {
		return err
	}
	return util.RemoveAll(t.fs, full)
}

// Clear removes everything inside the tree but keeps the tree directory.
func (t *Tree) Clear() error {
	if err := t.check(); err != nil {
		return err
	}
	if err := util.RemoveAll(t.fs, t.prefix); err != nil {
		return err
	}
	return t.fs.MkdirAll(t.prefix, 0o700)
}

// WalkFunc is called for every entry below the walked directory.
// rel is slash-separated and relative to the tree.
type WalkFunc func(rel string, info fs.FileInfo) error

// Walk visits every entry below dir (use "" for the tree root) in lexical
// order, directories before their contents. Returning fs.SkipDir from fn
// skips a directory.
func (t *Tree) Walk(dir string, fn WalkFunc) error {
	start, err := t.resolveAllowRoot(dir)
	if err != nil {
		return err
	}
	return util.Walk(t.fs, start, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel := t.rel(p)
		if rel == "" {
			return nil
		}
		return fn(rel, info)
	})
}

// Stats walks dir and totals its regular files. Directories and other
// entry types are not counted.
func (t *Tree) Stats(dir string) (Stats, error) {
	var st Stats
	err := t.Walk(dir, func(_ string, info fs.FileInfo) error {
		if !info.Mode().IsRegular() {
			return nil
		}
		total, ok := sizing.AddInt64(st.Bytes, info.Size())
		if !ok {
			return jobtype.ErrSizeOverflow
		}
		st.Files++
		st.Bytes = total
		return nil
	})
	return st, err
}

// Release removes the job subtree. Releasing a sub-tree removes only that
// directory. Release is idempotent.
func (t *Tree) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil
	}
	if err := util.RemoveAll(t.fs, t.prefix); err != nil {
		return fmt.Errorf("release %s: %w", t.prefix, err)
	}
	t.released = true
	t.owner.logger.Debug("staging subtree released", "name", t.prefix)
	return nil
}

func (t *Tree) check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return ErrReleased
	}
	return nil
}

func (t *Tree) resolve(p string) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	clean := pathutil.Sanitize(p)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return path.Join(t.prefix, clean), nil
}

func (t *Tree) resolveAllowRoot(p string) (string, error) {
	if pathutil.Sanitize(p) == "" {
		if err := t.check(); err != nil {
			return "", err
		}
		return t.prefix, nil
	}
	return t.resolve(p)
}

// rel converts a path reported by the filesystem back to a tree-relative one.
func (t *Tree) rel(p string) string {
	p = strings.TrimPrefix(filepath.ToSlash(p), "/")
	if p == t.prefix {
		return ""
	}
	return strings.TrimPrefix(p, t.prefix+"/")
}
