package staging

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SweepResult contains the outcome of a stale subtree sweep.
type SweepResult struct {
	Removed []string
	Errors  []SweepError
}

// SweepError pairs a subtree path with its removal error.
type SweepError struct {
	Path string
	Err  error
}

// Sweep removes job subtrees whose modification time is older than maxAge.
// It only applies to the disk backend; memory subtrees die with the process.
func (f *Filesystem) Sweep(maxAge time.Duration) SweepResult {
	result := SweepResult{}
	if f.backend != BackendDisk || f.dir == "" {
		return result
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: f.dir, Err: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), MountPrefix) {
			continue
		}
		path := filepath.Join(f.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: path, Err: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, SweepError{Path: path, Err: err})
			continue
		}
		result.Removed = append(result.Removed, path)
		f.logger.Info("removed stale staging subtree", "path", path, "age", time.Since(info.ModTime()).Round(time.Second))
	}
	return result
}
