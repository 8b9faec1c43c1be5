//go:build !windows

package backup

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/notally/notally/internal/errors"
)

// createNoFollow creates (or truncates) path for writing.
func createNoFollow(path string, perm os.FileMode) (*os.File, error) {
	return noFollow(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm, "write to")
}

// openNoFollow opens path for reading.
func openNoFollow(path string) (*os.File, error) {
	return noFollow(path, os.O_RDONLY, 0, "read from")
}

// noFollow opens path with O_NOFOLLOW so a symlink in the final component
// fails with ELOOP instead of being followed.
func noFollow(path string, flag int, perm os.FileMode, verb string) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), path), nil
	case stderrors.Is(err, syscall.ELOOP):
		return nil, errors.NewInvalidRequest("cannot " + verb + " symlink")
	case stderrors.Is(err, syscall.ENOENT) && flag&os.O_CREATE == 0:
		return nil, errors.NewFileNotFound(path)
	default:
		return nil, err
	}
}
