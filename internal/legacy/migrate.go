// Package legacy imports notes and labels kept by older releases as one XML
// file per note plus a shared-preferences label list.
package legacy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/notally/notally/internal/errors"
	"github.com/notally/notally/internal/note"
	"github.com/notally/notally/internal/store"
)

// Paths locates the legacy files.
type Paths struct {
	NotesDir    string
	DeletedDir  string
	ArchivedDir string
	LabelPrefs  string
	RejectedDir string
	StagingDir  string
}

// DefaultPaths returns the legacy layout inside dataDir.
func DefaultPaths(dataDir string) Paths {
	return Paths{
		NotesDir:    filepath.Join(dataDir, "notes"),
		DeletedDir:  filepath.Join(dataDir, "deleted"),
		ArchivedDir: filepath.Join(dataDir, "archived"),
		LabelPrefs:  filepath.Join(dataDir, "labelsPreferences.xml"),
		RejectedDir: filepath.Join(dataDir, "legacy-rejected"),
		StagingDir:  filepath.Join(dataDir, "legacy-migrating"),
	}
}

// Result summarizes a migration run.
type Result struct {
	Notes    int      `json:"notes"`
	Labels   int      `json:"labels"`
	Skipped  int      `json:"skipped"`
	Rejected []string `json:"rejected,omitempty"`
}

type parsedFile struct {
	path string
	note *note.Note
}

// Migrate moves legacy notes and labels into the store. Everything parsed is
// inserted in one transaction. Inside that transaction the legacy files are
// moved to StagingDir; if anything fails they are moved back, and they are
// deleted only after the commit. Files that cannot be parsed are moved to
// RejectedDir and skipped. Running it again after a successful run does
// nothing.
func Migrate(ctx context.Context, s *store.Store, p Paths, log zerolog.Logger) (*Result, error) {
	result := &Result{}

	if err := recoverStaging(p, log); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("recover legacy staging: %w", err))
	}

	var parsed []parsedFile
	for _, src := range []struct {
		dir    string
		folder note.Folder
	}{
		{p.NotesDir, note.FolderNotes},
		{p.DeletedDir, note.FolderDeleted},
		{p.ArchivedDir, note.FolderArchived},
	} {
		files, err := readFolder(src.dir, src.folder, p.RejectedDir, result, log)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, files...)
	}

	labels, prefs, err := readLabels(p.LabelPrefs)
	if err != nil {
		// The preferences file is left untouched so nothing is lost.
		log.Warn().Err(err).Str("path", p.LabelPrefs).Msg("legacy label preferences unreadable, skipping")
		labels, prefs = nil, nil
	}

	if len(parsed) == 0 && len(labels) == 0 {
		log.Debug().Int("skipped", result.Skipped).Msg("no legacy data to migrate")
		return result, nil
	}

	notes := make([]*note.Note, len(parsed))
	for i, f := range parsed {
		notes[i] = f.note
	}
	noteLabels := make([]note.Label, len(labels))
	for i, v := range labels {
		noteLabels[i] = note.Label{Value: v}
	}

	stage := &staging{dir: p.StagingDir}
	err = s.Transaction(ctx, func(tx *store.Tx) error {
		if err := tx.InsertLabels(ctx, noteLabels); err != nil {
			return err
		}
		if err := tx.InsertNotes(ctx, notes); err != nil {
			return err
		}
		for _, f := range parsed {
			err := stage.stash(f.path, stagedNoteName(f.note.Folder, f.path))
			if err != nil && !os.IsNotExist(err) {
				return errors.NewInternal(fmt.Errorf("stage legacy note %s: %w", f.path, err))
			}
		}
		if prefs != nil && len(labels) > 0 {
			data, err := prefs.withoutLabels()
			if err != nil {
				return errors.NewInternal(err)
			}
			if err := stage.stash(p.LabelPrefs, prefsPrefix+filepath.Base(p.LabelPrefs)); err != nil {
				return errors.NewInternal(fmt.Errorf("stage legacy labels: %w", err))
			}
			if err := writeLegacyFile(p.LabelPrefs, data, 0600); err != nil {
				return errors.NewInternal(fmt.Errorf("clear legacy labels: %w", err))
			}
		}
		return nil
	})
	if err != nil {
		if rErr := stage.restore(); rErr != nil {
			log.Error().Err(rErr).Str("path", p.StagingDir).Msg("failed to restore staged legacy files")
		}
		return nil, err
	}
	if err := stage.discard(); err != nil {
		log.Warn().Err(err).Str("path", p.StagingDir).Msg("failed to remove staged legacy files")
	}

	result.Notes = len(notes)
	result.Labels = len(labels)
	log.Info().
		Int("notes", result.Notes).
		Int("labels", result.Labels).
		Int("skipped", result.Skipped).
		Msg("legacy migration complete")
	return result, nil
}

// readFolder parses every regular file in dir. Unparseable files are moved
// aside and recorded in result.
func readFolder(dir string, folder note.Folder, rejectedDir string, result *Result, log zerolog.Logger) ([]parsedFile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("read legacy folder %s: %w", dir, err))
	}

	var files []parsedFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		n, err := ParseNoteFile(path, folder)
		if err != nil {
			result.Skipped++
			dest, moveErr := reject(path, folder, rejectedDir)
			ev := log.Warn().Err(err).Str("path", path)
			if moveErr != nil {
				ev = ev.AnErr("move_error", moveErr)
			} else {
				ev = ev.Str("moved_to", dest)
				result.Rejected = append(result.Rejected, dest)
			}
			ev.Msg("skipping unreadable legacy note")
			continue
		}
		files = append(files, parsedFile{path: path, note: n})
	}
	return files, nil
}

// reject moves a bad legacy file into rejectedDir, prefixing the folder name
// so files from different folders cannot collide.
func reject(path string, folder note.Folder, rejectedDir string) (string, error) {
	if err := os.MkdirAll(rejectedDir, 0700); err != nil {
		return "", err
	}
	dest := filepath.Join(rejectedDir, fmt.Sprintf("%s-%s", folder, filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}
