package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/notally/notally/internal/config"
	"github.com/notally/notally/internal/errors"
)

// Extension is required on every backup file.
const Extension = ".jsonl"

// PathCheckMode indicates whether the path check is for reading or writing.
type PathCheckMode int

const (
	PathCheckRead  PathCheckMode = iota // for import
	PathCheckWrite                      // for export
)

// Policy decides which backup paths are acceptable.
type Policy struct {
	// ExportsDir is always allowed.
	ExportsDir string

	// AllowedPaths are extra absolute directories.
	AllowedPaths []string

	// AllowUnsafe skips directory restrictions. Symlinks are still refused.
	AllowUnsafe bool
}

// NewPolicy builds a Policy from the data directory's exports dir and config.
func NewPolicy(exportsDir string, cfg *config.Config) Policy {
	p := Policy{ExportsDir: exportsDir}
	if cfg != nil {
		p.AllowedPaths = cfg.AllowedPaths
		p.AllowUnsafe = cfg.AllowUnsafePaths
	}
	return p
}

// ValidatePath checks a backup path:
//  1. no ".." components
//  2. .jsonl extension
//  3. file directly inside an allowed directory (no subdirectories)
//  4. neither the file nor its parent is a symlink
//
// Requiring the file to sit directly in an allowed directory leaves no
// intermediate component to swap for a symlink between check and open;
// O_NOFOLLOW covers the final component.
func (p Policy) ValidatePath(path string, mode PathCheckMode) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != Extension {
		return errors.NewInvalidRequest("path must have .jsonl extension")
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	if !p.AllowUnsafe {
		allowedDirs, err := p.allowedDirs()
		if err != nil {
			return err
		}
		parentDir := filepath.Dir(absPath)
		if !isDirectlyInAllowedDir(parentDir, allowedDirs) {
			return errors.NewInvalidRequest(
				fmt.Sprintf("file must be directly in an allowed directory (no subdirectories); allowed: %v",
					allowedDirs))
		}
		if info, err := os.Lstat(parentDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return errors.NewInvalidRequest("parent directory must not be a symlink")
		}
	}

	if mode == PathCheckRead {
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			return errors.NewFileNotFound(path)
		}
	}

	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

// allowedDirs returns the allowed directories, absolute and with symlinked
// entries resolved.
func (p Policy) allowedDirs() ([]string, error) {
	dirs := make([]string, 0, len(p.AllowedPaths)+1)
	if p.ExportsDir != "" {
		dirs = append(dirs, p.ExportsDir)
	}
	for _, d := range p.AllowedPaths {
		if filepath.IsAbs(d) {
			dirs = append(dirs, d)
		}
	}

	result := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(filepath.Clean(d))
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
			abs = resolved
		}
		result = append(result, abs)
	}
	return result, nil
}

// DefaultPath returns the path used when an export names no destination.
func (p Policy) DefaultPath(now time.Time) string {
	return filepath.Join(p.ExportsDir, fmt.Sprintf("notally-backup-%s%s", now.Format("2006-01-02T150405"), Extension))
}

func isDirectlyInAllowedDir(parentDir string, allowedDirs []string) bool {
	parentDir = filepath.Clean(parentDir)
	for _, dir := range allowedDirs {
		if parentDir == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
