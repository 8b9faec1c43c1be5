//go:build windows

package backup

import (
	"os"

	"github.com/notally/notally/internal/errors"
)

// createNoFollow creates a file for writing. Windows has no O_NOFOLLOW;
// ValidatePath has already refused symlinks.
func createNoFollow(path string, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
}

// openNoFollow opens a file for reading.
func openNoFollow(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, err
	}
	return f, nil
}
