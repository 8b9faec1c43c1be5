package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/notally/notally/internal/errors"
)

// WriteResult describes a backup written to disk.
type WriteResult struct {
	Path       string `json:"path"`
	BackupID   string `json:"backup_id"`
	Notes      int    `json:"notes"`
	Labels     int    `json:"labels"`
	ExportedAt int64  `json:"exported_at"`
}

// WriteFile validates path and writes b to it. The stream goes to a temp
// file first and is renamed into place after fsync, so an existing backup
// survives a failed write.
func WriteFile(path string, b *Backup, policy Policy) (*WriteResult, error) {
	if err := policy.ValidatePath(path, PathCheckWrite); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create backup directory: %w", err))
	}

	tempPath := path + "." + strings.ToLower(NewBackupID()) + ".tmp"
	file, err := createNoFollow(tempPath, 0600)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	header, err := Encode(file, b)
	if err != nil {
		return nil, err
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close backup file: %w", err))
	}
	file = nil

	// os.Rename would replace a symlink destination with our file; refuse it.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("path must not be a symlink")
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("backup destination already exists; overwriting is not supported on Windows yet (choose a new path or delete the existing file)")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize backup: %w", err))
	}

	success = true
	return &WriteResult{
		Path:       path,
		BackupID:   header.BackupID,
		Notes:      b.Count(),
		Labels:     len(b.Labels),
		ExportedAt: header.ExportedAt,
	}, nil
}

// ReadFile validates path and decodes the backup stored there.
func ReadFile(path string, policy Policy) (*Backup, *Header, error) {
	if err := policy.ValidatePath(path, PathCheckRead); err != nil {
		return nil, nil, err
	}
	file, err := openNoFollow(path)
	if err != nil {
		return nil, nil, errors.Wrap(err)
	}
	defer file.Close()
	return Decode(file)
}
