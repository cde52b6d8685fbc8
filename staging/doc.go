// Package staging provides the per-job scratch filesystem that sits between
// extraction and packing.
//
// A [Filesystem] is opened once per runner. It prefers a disk-backed root
// (keeping resident memory flat for large archives) and falls back to an
// in-memory filesystem when the disk root is unusable. Each job mounts its
// own uniquely named subtree with [Filesystem.Mount]; the returned [Tree] is
// removed wholesale by [Tree.Release].
//
// Every path handed to a Tree is sanitized with the same rules applied to
// archive entry names, so nothing written through a Tree can land outside
// its subtree.
package staging
