package app

import (
	"context"
	"time"

	"github.com/notally/notally/internal/backup"
	"github.com/notally/notally/internal/errors"
	"github.com/notally/notally/internal/note"
	"github.com/notally/notally/internal/render"
	"github.com/notally/notally/internal/store"
	"github.com/notally/notally/internal/worker"
)

// ImportMode controls how note ids in a backup are treated.
type ImportMode string

const (
	ImportModeAppend  ImportMode = "append"  // ids cleared, storage assigns new ones
	ImportModeReplace ImportMode = "replace" // ids kept, existing rows overwritten
)

// ParseImportMode parses s. Empty means append.
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(s) {
	case "", ImportModeAppend:
		return ImportModeAppend, nil
	case ImportModeReplace:
		return ImportModeReplace, nil
	}
	return "", errors.NewInvalidRequest("mode must be one of: append, replace")
}

// ImportResult describes a completed import.
type ImportResult struct {
	Path     string `json:"path"`
	BackupID string `json:"backup_id"`
	Notes    int    `json:"notes"`
	Labels   int    `json:"labels"`
	Mode     string `json:"mode"`
}

// =============================================================================
// Note and label mutations
// =============================================================================

func (m *Model) mutate(ctx context.Context, op string, fn func(ctx context.Context) error) *worker.Future[struct{}] {
	return submit(m, ctx, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// AddNote stores a copy of n; n itself is never modified. A zero timestamp
// becomes now and an empty folder NOTES. The returned note carries its
// assigned id.
func (m *Model) AddNote(ctx context.Context, n *note.Note) *worker.Future[*note.Note] {
	if n != nil {
		n = n.Clone()
	}
	return submit(m, ctx, "add_note", func(ctx context.Context) (*note.Note, error) {
		if n == nil {
			return nil, errors.NewInvalidRequest("note is required")
		}
		if n.Timestamp == 0 {
			n.Timestamp = time.Now().UnixMilli()
		}
		if n.Folder == "" {
			n.Folder = note.FolderNotes
		}
		if err := m.store.InsertNote(ctx, n); err != nil {
			return nil, err
		}
		return n, nil
	})
}

func (m *Model) MoveToDeleted(ctx context.Context, id int64) *worker.Future[struct{}] {
	return m.mutate(ctx, "move_to_deleted", func(ctx context.Context) error {
		return m.store.MoveToDeleted(ctx, id)
	})
}

func (m *Model) MoveToArchive(ctx context.Context, id int64) *worker.Future[struct{}] {
	return m.mutate(ctx, "move_to_archive", func(ctx context.Context) error {
		return m.store.MoveToArchive(ctx, id)
	})
}

func (m *Model) Restore(ctx context.Context, id int64) *worker.Future[struct{}] {
	return m.mutate(ctx, "restore", func(ctx context.Context) error {
		return m.store.Restore(ctx, id)
	})
}

// MoveToFolder moves a note to any folder.
func (m *Model) MoveToFolder(ctx context.Context, id int64, folder note.Folder) *worker.Future[struct{}] {
	return m.mutate(ctx, "move", func(ctx context.Context) error {
		return m.store.MoveToFolder(ctx, id, folder)
	})
}

// DeleteForever removes a note from the DELETED folder permanently.
func (m *Model) DeleteForever(ctx context.Context, id int64) *worker.Future[struct{}] {
	return m.mutate(ctx, "delete_forever", func(ctx context.Context) error {
		return m.store.DeleteForever(ctx, id)
	})
}

func (m *Model) UpdateLabels(ctx context.Context, id int64, labels []string) *worker.Future[struct{}] {
	return m.mutate(ctx, "update_labels", func(ctx context.Context) error {
		return m.store.UpdateLabels(ctx, id, labels)
	})
}

func (m *Model) DeleteLabel(ctx context.Context, value string) *worker.Future[struct{}] {
	return m.mutate(ctx, "delete_label", func(ctx context.Context) error {
		return m.store.DeleteLabel(ctx, value)
	})
}

// InsertLabel fails with LABEL_ALREADY_EXISTS when the label is present.
func (m *Model) InsertLabel(ctx context.Context, value string) *worker.Future[struct{}] {
	return m.mutate(ctx, "insert_label", func(ctx context.Context) error {
		return m.store.InsertLabel(ctx, note.Label{Value: value})
	})
}

func (m *Model) RenameLabel(ctx context.Context, oldValue, newValue string) *worker.Future[struct{}] {
	return m.mutate(ctx, "rename_label", func(ctx context.Context) error {
		return m.store.RenameLabel(ctx, oldValue, newValue)
	})
}

// =============================================================================
// Backup
// =============================================================================

// ExportBackup writes the whole corpus to path, or to the default location
// in the exports directory when path is empty.
func (m *Model) ExportBackup(ctx context.Context, path string) *worker.Future[*backup.WriteResult] {
	return submit(m, ctx, "export_backup", func(ctx context.Context) (*backup.WriteResult, error) {
		if path == "" {
			path = m.policy.DefaultPath(time.Now())
		}
		b, err := m.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return backup.WriteFile(path, b, m.policy)
	})
}

// snapshot reads all folders and labels from one read transaction so the
// backup is consistent.
func (m *Model) snapshot(ctx context.Context) (*backup.Backup, error) {
	b := &backup.Backup{}
	err := m.store.Transaction(ctx, func(tx *store.Tx) error {
		var err error
		if b.Notes, err = tx.NotesIn(ctx, note.FolderNotes); err != nil {
			return err
		}
		if b.DeletedNotes, err = tx.NotesIn(ctx, note.FolderDeleted); err != nil {
			return err
		}
		if b.ArchivedNotes, err = tx.NotesIn(ctx, note.FolderArchived); err != nil {
			return err
		}
		b.Labels, err = tx.Labels(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ImportBackup reads a backup and inserts its labels and notes in one
// transaction. A corrupt file imports nothing.
func (m *Model) ImportBackup(ctx context.Context, path string, mode ImportMode) *worker.Future[*ImportResult] {
	return submit(m, ctx, "import_backup", func(ctx context.Context) (*ImportResult, error) {
		if path == "" {
			return nil, errors.NewInvalidRequest("path is required")
		}
		parsed, err := ParseImportMode(string(mode))
		if err != nil {
			return nil, err
		}

		b, header, err := backup.ReadFile(path, m.policy)
		if err != nil {
			return nil, err
		}

		notes := b.AllNotes()
		if parsed == ImportModeAppend {
			for _, n := range notes {
				n.ID = 0
			}
		}
		labels := make([]note.Label, len(b.Labels))
		for i, v := range b.Labels {
			labels[i] = note.Label{Value: v}
		}

		result := &ImportResult{
			Path:     path,
			BackupID: header.BackupID,
			Notes:    len(notes),
			Labels:   len(labels),
			Mode:     string(parsed),
		}
		if b.Count() == 0 && len(labels) == 0 {
			return result, nil
		}

		err = m.store.Transaction(ctx, func(tx *store.Tx) error {
			if err := tx.InsertLabels(ctx, labels); err != nil {
				return err
			}
			return tx.InsertNotes(ctx, notes)
		})
		if err != nil {
			return nil, err
		}
		m.log.Info().Str("backup_id", header.BackupID).Int("notes", result.Notes).Int("labels", result.Labels).Msg("backup imported")
		return result, nil
	})
}

// =============================================================================
// Rendering
// =============================================================================

func (m *Model) renderFile(ctx context.Context, op string, id int64, write func(ctx context.Context, n *note.Note) (string, error)) *worker.Future[string] {
	return submit(m, ctx, op, func(ctx context.Context) (string, error) {
		n, err := m.store.Note(ctx, id)
		if err != nil {
			return "", err
		}
		m.exportMu.Lock()
		defer m.exportMu.Unlock()
		return write(ctx, n)
	})
}

// HTMLFile renders note id into the scratch directory and returns the path.
func (m *Model) HTMLFile(ctx context.Context, id int64) *worker.Future[string] {
	return m.renderFile(ctx, "html_file", id, func(_ context.Context, n *note.Note) (string, error) {
		return m.exporter.WriteHTML(n)
	})
}

// PlainTextFile renders note id as text into the scratch directory.
func (m *Model) PlainTextFile(ctx context.Context, id int64) *worker.Future[string] {
	return m.renderFile(ctx, "plain_text_file", id, func(_ context.Context, n *note.Note) (string, error) {
		return m.exporter.WritePlainText(n)
	})
}

// PDFFile renders note id as PDF. Unlike storage work, conversion stops
// when ctx ends.
func (m *Model) PDFFile(ctx context.Context, id int64) *worker.Future[string] {
	return m.renderFile(ctx, "pdf_file", id, func(_ context.Context, n *note.Note) (string, error) {
		return m.exporter.WritePDF(ctx, n, m.pdf)
	})
}

// SaveFile copies a rendered file to a destination chosen by the user.
func (m *Model) SaveFile(ctx context.Context, src, dst string) *worker.Future[struct{}] {
	return m.mutate(ctx, "save_file", func(context.Context) error {
		if dst == "" {
			return errors.NewInvalidRequest("destination is required")
		}
		return render.CopyFile(src, dst)
	})
}
