package staging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/gofrs/flock"
)

// Backend identifies the storage behind a Filesystem.
type Backend uint8

const (
	// BackendDisk stores staged files under a host directory.
	BackendDisk Backend = iota

	// BackendMemory keeps staged files in process memory.
	BackendMemory
)

// String returns the string representation of the backend.
func (b Backend) String() string {
	switch b {
	case BackendDisk:
		return "disk"
	case BackendMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// MountPrefix starts the name of every job subtree.
const MountPrefix = "conv-"

const (
	lockFileName   = ".lock"
	writeCheckName = ".writable"
	mountAttempts  = 10
)

// DefaultDir returns the default disk staging directory.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "repack-staging")
}

// Filesystem hands out isolated per-job staging subtrees.
//
// Filesystem is safe for concurrent use; concurrent mounts never share a
// subtree.
type Filesystem struct {
	fs      billy.Filesystem
	backend Backend
	dir     string
	lock    *flock.Flock
	logger  *slog.Logger
}

type config struct {
	dir          string
	preferMemory bool
	staleAfter   time.Duration
	logger       *slog.Logger
}

// Option configures Open.
type Option func(*config)

// WithDir sets the disk staging directory. Empty uses DefaultDir.
func WithDir(dir string) Option {
	return func(c *config) {
		c.dir = dir
	}
}

// WithPreferMemory skips the disk backend entirely.
func WithPreferMemory(enabled bool) Option {
	return func(c *config) {
		c.preferMemory = enabled
	}
}

// WithStaleAfter removes job subtrees older than d when the disk backend is
// opened. They are left behind only when a previous process died mid-job.
// Zero disables the sweep.
func WithStaleAfter(d time.Duration) Option {
	return func(c *config) {
		c.staleAfter = d
	}
}

// WithLogger sets the logger for staging operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Open returns a staging filesystem.
//
// The disk backend is used when its directory can be created, is writable,
// and is not locked by another process. Otherwise Open falls back to memory;
// the fallback is logged but is not an error.
func Open(opts ...Option) (*Filesystem, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if !cfg.preferMemory {
		dir := cfg.dir
		if dir == "" {
			dir = DefaultDir()
		}
		f, err := openDisk(dir, logger)
		if err == nil {
			if cfg.staleAfter > 0 {
				res := f.Sweep(cfg.staleAfter)
				for _, e := range res.Errors {
					logger.Warn("failed to remove stale staging subtree", "path", e.Path, "error", e.Err)
				}
			}
			logger.Debug("staging filesystem opened", "backend", f.backend.String(), "dir", dir)
			return f, nil
		}
		logger.Warn("disk staging unavailable, using memory", "dir", dir, "error", err)
	}

	logger.Debug("staging filesystem opened", "backend", BackendMemory.String())
	return &Filesystem{fs: memfs.New(), backend: BackendMemory, logger: logger}, nil
}

func openDisk(dir string, logger *slog.Logger) (*Filesystem, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	lock := flock.New(filepath.Join(abs, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock staging dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("staging dir %s is in use by another process", abs)
	}

	check := filepath.Join(abs, writeCheckName)
	if err := os.WriteFile(check, []byte("ok"), 0o600); err != nil {
		_ = lock.Unlock() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("staging dir not writable: %w", err)
	}
	_ = os.Remove(check) //nolint:errcheck // leftover marker is harmless

	return &Filesystem{
		fs:      osfs.New(abs, osfs.WithBoundOS()),
		backend: BackendDisk,
		dir:     abs,
		lock:    lock,
		logger:  logger,
	}, nil
}

// Backend reports which storage is active.
func (f *Filesystem) Backend() Backend {
	return f.backend
}

// Dir returns the host directory of the disk backend, or "" for memory.
func (f *Filesystem) Dir() string {
	return f.dir
}

// Mount creates a fresh, uniquely named job subtree.
func (f *Filesystem) Mount(ctx context.Context) (*Tree, error) {
	for range mountAttempts {
		if err := ctx.Err(); err != nil {
			return nil, context.Cause(ctx)
		}
		suffix, err := randomSuffix()
		if err != nil {
			return nil, err
		}
		name := MountPrefix + suffix
		if _, err := f.fs.Lstat(name); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if err := f.fs.MkdirAll(name, 0o700); err != nil {
			return nil, fmt.Errorf("mount %s: %w", name, err)
		}
		f.logger.Debug("staging subtree mounted", "name", name, "backend", f.backend.String())
		return &Tree{fs: f.fs, root: name, prefix: name, owner: f}, nil
	}
	return nil, errors.New("staging: exhausted mount attempts")
}

// Mounted lists the job subtrees that currently exist.
func (f *Filesystem) Mounted() ([]string, error) {
	infos, err := f.fs.ReadDir(".")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() && strings.HasPrefix(info.Name(), MountPrefix) {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

// Close releases the disk lock. Mounted trees must be released first.
func (f *Filesystem) Close() error {
	if f.lock == nil {
		return nil
	}
	return f.lock.Unlock()
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
