// Package fs provides the filesystem abstraction [Locker] needs to lock a
// path: opening (and lazily creating) a lock file, ensuring its parent
// directory exists, and stat-ing it to detect replacement.
//
// The main types are:
//   - [FS]: the filesystem operations [Locker] depends on
//   - [File]: an open file descriptor (satisfied by [os.File])
//   - [Real]: the production implementation, backed by [os]
package fs

import (
	"io"
	"os"
)

// File is an open file descriptor, the subset [os.File] and [Locker] need:
// a descriptor to flock, and Stat to verify it still refers to the inode at
// its path.
type File interface {
	io.Closer

	// Fd returns the file descriptor. Used for [syscall.Flock].
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)
}

// FS defines the filesystem operations [Locker] needs to open and stat a
// lock file.
type FS interface {
	// OpenFile opens a file with specified flags and permissions. See
	// [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	// No error if the directory already exists.
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat]. Returns [os.ErrNotExist] if the
	// file doesn't exist.
	Stat(path string) (os.FileInfo, error)
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
