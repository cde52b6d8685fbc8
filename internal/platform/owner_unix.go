//go:build unix

// Package platform hides OS differences in file metadata.
package platform

import (
	"io/fs"
	"syscall"
)

// FileOwner extracts UID and GID from file info on Unix systems. Files
// without OS metadata, such as those staged in memory, report zero.
func FileOwner(info fs.FileInfo) (uid, gid int) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return int(stat.Uid), int(stat.Gid)
	}
	return 0, 0
}
