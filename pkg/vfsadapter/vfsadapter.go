// Package vfsadapter implements the narrow Mount interface spec.md §6
// describes (getattr/readdir/open/read/write/truncate/unlink/rename/
// chmod/symlink/readlink/utimens/fsync) on top of a *box.Box, and
// translates the core's boxerr sentinels into the numeric error codes
// a userspace filesystem binding expects. There is no FUSE-facing
// teacher module to ground this on; the path-splitting, handle-table,
// and Stat shape below follow pkg/box and pkg/bxdir's own conventions
// instead.
package vfsadapter

import (
	"errors"
	"strings"
	"syscall"
	"time"

	"github.com/boxfs/boxfs/pkg/boxerr"
)

// Stat is the subset of file metadata getattr reports.
type Stat struct {
	Mode  uint32
	Size  int64
	Mtime time.Time
}

func (s Stat) IsDir() bool { return s.Mode&syscall.S_IFMT == syscall.S_IFDIR }

// FileSystem is the Mount interface a userspace filesystem binding
// drives. Every method returns a plain error; callers translate it to
// an errno with Errno.
type FileSystem interface {
	GetAttr(path string) (Stat, error)
	ReadDir(path string) ([]string, error)
	Open(path string) (int, error)
	Create(path string, mode uint32) (int, error)
	Mknod(path string, mode uint32) error
	Read(handle int, offset int64, buf []byte) (int, error)
	Write(handle int, offset int64, buf []byte) (int, error)
	Truncate(handle int, size int64) error
	Unlink(path string) error
	Rmdir(path string) error
	Rename(oldPath, newPath string) error
	Chmod(path string, mode uint32) error
	Symlink(target, link string) error
	Readlink(path string) (string, error)
	Utimens(path string, atime, mtime time.Time) error
	Fsync(handle int) error
	Release(handle int) error
}

// splitPath turns a slash-separated path into bxdir/box path
// components, dropping a leading "/" and collapsing the root to an
// empty slice.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Errno translates a boxfs core error into the numeric code spec.md
// §6's translation table names: no-such-child → ENOENT, not-a-
// directory → ENOTDIR, read-only → EROFS, access → EACCES, a
// fetch-error → EIO, an unsupported symlink operation → EPERM, and
// anything else unrecognized → EINVAL.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, boxerr.ErrNoSuchChild):
		return syscall.ENOENT
	case errors.Is(err, boxerr.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, boxerr.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, boxerr.ErrAccessDenied):
		return syscall.EACCES
	case errors.Is(err, errUnsupportedLink):
		return syscall.EPERM
	case isFetchError(err):
		return syscall.EIO
	default:
		return syscall.EINVAL
	}
}

func isFetchError(err error) bool {
	var fe *boxerr.FetchError
	return errors.As(err, &fe)
}

// errUnsupportedLink marks a symlink/readlink call against an entry
// whose mode isn't odb.ModeSymlink.
var errUnsupportedLink = errors.New("vfsadapter: not a symlink")
