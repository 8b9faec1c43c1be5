package legacy

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/notally/notally/internal/note"
)

// committedMarker is written into the staging directory once the migration
// transaction has committed. Staged files are only deleted after that.
const committedMarker = ".committed"

const prefsPrefix = "prefs-"

// Swapped in tests to inject filesystem failures.
var (
	renameFile      = os.Rename
	writeLegacyFile = os.WriteFile
)

// staging holds legacy files moved aside while the migration transaction is
// open, so they can be put back if it fails.
type staging struct {
	dir   string
	moves []stagedMove
}

type stagedMove struct {
	from, to string
}

// stash moves path into the staging directory under name.
func (s *staging) stash(path, name string) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}
	dest := filepath.Join(s.dir, name)
	if err := renameFile(path, dest); err != nil {
		return err
	}
	s.moves = append(s.moves, stagedMove{from: path, to: dest})
	return nil
}

// restore moves every stashed file back, newest first. The staging directory
// is removed only when everything went back.
func (s *staging) restore() error {
	var errs []error
	for i := len(s.moves) - 1; i >= 0; i-- {
		mv := s.moves[i]
		if err := renameFile(mv.to, mv.from); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", mv.from, err))
		}
	}
	s.moves = nil
	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	return os.RemoveAll(s.dir)
}

// discard marks the migration committed and deletes the staged files.
func (s *staging) discard() error {
	if len(s.moves) == 0 {
		return nil
	}
	markErr := writeLegacyFile(filepath.Join(s.dir, committedMarker), nil, 0600)
	s.moves = nil
	if err := os.RemoveAll(s.dir); err != nil {
		return stderrors.Join(markErr, err)
	}
	return nil
}

// stagedNoteName names a note file inside the staging directory. The folder
// prefix keeps files from different folders apart and tells recovery where
// the file came from.
func stagedNoteName(folder note.Folder, path string) string {
	return fmt.Sprintf("%s-%s", folder, filepath.Base(path))
}

// recoverStaging settles a staging directory left by an interrupted run.
// If the transaction committed the staged files are already stored and are
// deleted; otherwise they are moved back so this run migrates them again.
func recoverStaging(p Paths, log zerolog.Logger) error {
	entries, err := os.ReadDir(p.StagingDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(p.StagingDir, committedMarker)); err == nil {
		log.Info().Str("path", p.StagingDir).Msg("removing staged legacy files from a committed migration")
		return os.RemoveAll(p.StagingDir)
	}

	dirs := map[note.Folder]string{
		note.FolderNotes:    p.NotesDir,
		note.FolderDeleted:  p.DeletedDir,
		note.FolderArchived: p.ArchivedDir,
	}
	for _, entry := range entries {
		name := entry.Name()
		staged := filepath.Join(p.StagingDir, name)

		var dest string
		if name == prefsPrefix+filepath.Base(p.LabelPrefs) {
			dest = p.LabelPrefs
		} else {
			prefix, base, ok := strings.Cut(name, "-")
			folder, err := note.ParseFolder(prefix)
			if !ok || err != nil {
				log.Warn().Str("path", staged).Msg("unrecognized file in legacy staging directory, leaving it")
				continue
			}
			dest = filepath.Join(dirs[folder], base)
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
			return err
		}
		if err := renameFile(staged, dest); err != nil {
			return fmt.Errorf("restore staged legacy file %s: %w", staged, err)
		}
		log.Warn().Str("path", dest).Msg("restored legacy file from an interrupted migration")
	}
	// Succeeds only when nothing was left behind.
	_ = os.Remove(p.StagingDir)
	return nil
}
