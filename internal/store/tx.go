package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/notally/notally/internal/db"
	"github.com/notally/notally/internal/errors"
	"github.com/notally/notally/internal/note"
)

// Tx is the write scope handed to Store.Transaction. It must not be used
// after the transaction function returns.
type Tx struct {
	tx      *sql.Tx
	touched table
}

// InsertNotes upserts every note. Any failure aborts the whole batch.
// The notes are modified in place: labels are normalized and a zero ID is
// replaced by the assigned one, so callers must not share them with other
// goroutines during the call.
func (t *Tx) InsertNotes(ctx context.Context, notes []*note.Note) error {
	for i, n := range notes {
		if n == nil {
			return errors.NewInvalidRequest(fmt.Sprintf("note %d in batch is nil", i))
		}
		n.Labels = note.NormalizeLabels(n.Labels)
		if err := db.UpsertNote(ctx, t.tx, n); err != nil {
			return err
		}
	}
	if len(notes) > 0 {
		t.touched |= tableNotes
	}
	return nil
}

// InsertLabels adds labels, ignoring existing ones. Blank labels are skipped.
func (t *Tx) InsertLabels(ctx context.Context, labels []note.Label) error {
	for _, l := range labels {
		value := note.NormalizeLabel(l.Value)
		if value == "" {
			continue
		}
		if err := db.InsertLabelIgnore(ctx, t.tx, value); err != nil {
			return err
		}
		t.touched |= tableLabels
	}
	return nil
}

// InsertLabel adds one label, failing if it exists.
func (t *Tx) InsertLabel(ctx context.Context, label note.Label) error {
	value := note.NormalizeLabel(label.Value)
	if value == "" {
		return errors.NewInvalidRequest("label must not be empty")
	}
	exists, err := db.LabelExists(ctx, t.tx, value)
	if err != nil {
		return err
	}
	if exists {
		return errors.NewLabelAlreadyExists(value)
	}
	if err := db.InsertLabel(ctx, t.tx, value); err != nil {
		return err
	}
	t.touched |= tableLabels
	return nil
}

// MoveToFolder moves a note. A missing note is a no-op.
func (t *Tx) MoveToFolder(ctx context.Context, id int64, folder note.Folder) error {
	if _, err := note.ParseFolder(string(folder)); err != nil {
		return errors.NewInvalidRequest(err.Error())
	}
	changed, err := db.SetFolder(ctx, t.tx, id, folder)
	if err != nil {
		return err
	}
	if changed > 0 {
		t.touched |= tableNotes
	}
	return nil
}

// DeleteForever removes a note that is in the DELETED folder. A missing note
// is a no-op; a note in another folder is rejected.
func (t *Tx) DeleteForever(ctx context.Context, id int64) error {
	n, err := db.GetNote(ctx, t.tx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if n.Folder != note.FolderDeleted {
		return errors.NewInvalidRequest(fmt.Sprintf("note %d is in %s; only deleted notes can be removed permanently", id, n.Folder))
	}
	if _, err := db.DeleteNote(ctx, t.tx, id); err != nil {
		return err
	}
	t.touched |= tableNotes
	return nil
}

// UpdateLabels replaces the label set of a note. A missing note is a no-op.
func (t *Tx) UpdateLabels(ctx context.Context, id int64, labels []string) error {
	changed, err := db.SetLabels(ctx, t.tx, id, note.NormalizeLabels(labels))
	if err != nil {
		return err
	}
	if changed > 0 {
		t.touched |= tableNotes
	}
	return nil
}

// DeleteLabel removes a label from the label list and from every note.
func (t *Tx) DeleteLabel(ctx context.Context, value string) error {
	value = note.NormalizeLabel(value)
	if value == "" {
		return errors.NewInvalidRequest("label must not be empty")
	}
	removed, err := db.DeleteLabelRow(ctx, t.tx, value)
	if err != nil {
		return err
	}
	if removed > 0 {
		t.touched |= tableLabels
	}
	_, err = t.replaceOnNotes(ctx, value, "")
	return err
}

// RenameLabel renames a label everywhere. Renaming onto an existing label
// merges the two. The new label is listed whenever the old one was listed or
// carried by any note.
func (t *Tx) RenameLabel(ctx context.Context, oldValue, newValue string) error {
	oldValue = note.NormalizeLabel(oldValue)
	newValue = note.NormalizeLabel(newValue)
	if oldValue == "" || newValue == "" {
		return errors.NewInvalidRequest("label must not be empty")
	}
	if oldValue == newValue {
		return nil
	}

	removed, err := db.DeleteLabelRow(ctx, t.tx, oldValue)
	if err != nil {
		return err
	}
	renamed, err := t.replaceOnNotes(ctx, oldValue, newValue)
	if err != nil {
		return err
	}
	if removed > 0 || renamed > 0 {
		if err := db.InsertLabelIgnore(ctx, t.tx, newValue); err != nil {
			return err
		}
		t.touched |= tableLabels
	}
	return nil
}

// replaceOnNotes swaps oldValue for replacement on every note carrying it,
// across all folders, and returns how many notes changed.
func (t *Tx) replaceOnNotes(ctx context.Context, oldValue, replacement string) (int, error) {
	notes, err := db.ListNotes(ctx, t.tx, db.NoteFilter{Label: oldValue})
	if err != nil {
		return 0, err
	}
	for _, n := range notes {
		if _, err := db.SetLabels(ctx, t.tx, n.ID, note.ReplaceLabel(n.Labels, oldValue, replacement)); err != nil {
			return 0, err
		}
	}
	if len(notes) > 0 {
		t.touched |= tableNotes
	}
	return len(notes), nil
}

// Note returns a note as seen inside the transaction.
func (t *Tx) Note(ctx context.Context, id int64) (*note.Note, error) {
	return db.GetNote(ctx, t.tx, id)
}

// NotesIn lists one folder as seen inside the transaction.
func (t *Tx) NotesIn(ctx context.Context, folder note.Folder) ([]*note.Note, error) {
	return db.ListNotes(ctx, t.tx, db.NoteFilter{Folder: folder})
}

// Labels lists all labels as seen inside the transaction.
func (t *Tx) Labels(ctx context.Context) ([]string, error) {
	return db.ListLabels(ctx, t.tx)
}
