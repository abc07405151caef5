package storage

import "strings"

// shmPrefix marks a path as naming POSIX shared memory rather than a
// regular file.
const shmPrefix = "shm:"

// resolvePath implements the backing-store naming rule: paths
// beginning with "shm:" use POSIX shared-memory naming; everything else is
// a regular file. Go has no shm_open wrapper in the standard library, and
// Linux's POSIX shared-memory objects are themselves just tmpfs files
// under /dev/shm, so "shm:name" resolves to "/dev/shm/name" — the same
// backing syscalls (open/mmap/unlink) apply either way.
func resolvePath(path string) string {
	if rest, ok := strings.CutPrefix(path, shmPrefix); ok {
		return "/dev/shm/" + rest
	}
	return path
}

func isShm(path string) bool {
	return strings.HasPrefix(path, shmPrefix)
}
