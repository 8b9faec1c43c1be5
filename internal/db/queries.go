package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/notally/notally/internal/errors"
	"github.com/notally/notally/internal/note"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so every query can run
// standalone or inside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const noteColumns = `id, type, folder, title, pinned, timestamp, labels_json, body, spans_json, items_json`

// NoteFilter narrows ListNotes. Zero values mean "no restriction".
type NoteFilter struct {
	Folder  note.Folder
	Label   string
	Keyword string
}

// UpsertNote stores a note. A zero ID inserts a new row and writes the
// assigned ID back into n. A non-zero ID inserts or replaces that row; the
// stored type of an existing note cannot change.
func UpsertNote(ctx context.Context, q Querier, n *note.Note) error {
	if err := n.Validate(); err != nil {
		return errors.NewInvalidRequest(err.Error())
	}

	labelsJSON, spansJSON, itemsJSON, err := encodeNoteJSON(n)
	if err != nil {
		return errors.NewInternal(err)
	}

	if n.ID == 0 {
		query := `
			INSERT INTO notes (type, folder, title, pinned, timestamp, labels_json, body, spans_json, items_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		result, err := q.ExecContext(ctx, query,
			string(n.Type), string(n.Folder), n.Title, n.Pinned, n.Timestamp,
			labelsJSON, n.Body, spansJSON, itemsJSON,
		)
		if err != nil {
			return errors.NewInternal(err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return errors.NewInternal(err)
		}
		n.ID = id
		return nil
	}

	var storedType string
	err = q.QueryRowContext(ctx, `SELECT type FROM notes WHERE id = ?`, n.ID).Scan(&storedType)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return errors.NewInternal(err)
	case note.Type(storedType) != n.Type:
		return errors.NewInvalidRequest(fmt.Sprintf("note %d: type is immutable (stored %s, got %s)", n.ID, storedType, n.Type))
	}

	query := `
		INSERT INTO notes (id, type, folder, title, pinned, timestamp, labels_json, body, spans_json, items_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			folder = excluded.folder,
			title = excluded.title,
			pinned = excluded.pinned,
			timestamp = excluded.timestamp,
			labels_json = excluded.labels_json,
			body = excluded.body,
			spans_json = excluded.spans_json,
			items_json = excluded.items_json
	`
	if _, err := q.ExecContext(ctx, query,
		n.ID, string(n.Type), string(n.Folder), n.Title, n.Pinned, n.Timestamp,
		labelsJSON, n.Body, spansJSON, itemsJSON,
	); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetNote retrieves a note by ID.
func GetNote(ctx context.Context, q Querier, id int64) (*note.Note, error) {
	row := q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(fmt.Sprintf("note %d", id))
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return n, nil
}

// ListNotes returns notes matching filter, pinned first, newest first.
func ListNotes(ctx context.Context, q Querier, filter NoteFilter) ([]*note.Note, error) {
	var (
		where []string
		args  []any
	)
	if filter.Folder != "" {
		where = append(where, "folder = ?")
		args = append(args, string(filter.Folder))
	}
	if filter.Label != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(notes.labels_json) WHERE json_each.value = ?)")
		args = append(args, filter.Label)
	}
	if kw := strings.TrimSpace(filter.Keyword); kw != "" {
		pattern := "%" + escapeLike(kw) + "%"
		where = append(where, `(title LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM json_each(notes.items_json)
				WHERE json_extract(json_each.value, '$.body') LIKE ? ESCAPE '\'))`)
		args = append(args, pattern, pattern, pattern)
	}

	query := `SELECT ` + noteColumns + ` FROM notes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY pinned DESC, timestamp DESC, id DESC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	notes := make([]*note.Note, 0)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return notes, nil
}

// SetFolder moves a note to folder. Returns the number of rows changed.
func SetFolder(ctx context.Context, q Querier, id int64, folder note.Folder) (int64, error) {
	result, err := q.ExecContext(ctx, `UPDATE notes SET folder = ? WHERE id = ?`, string(folder), id)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return rowsAffected(result)
}

// SetLabels replaces the label set of a note. Returns the number of rows changed.
func SetLabels(ctx context.Context, q Querier, id int64, labels []string) (int64, error) {
	data, err := marshalList(labels)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	result, err := q.ExecContext(ctx, `UPDATE notes SET labels_json = ? WHERE id = ?`, data, id)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return rowsAffected(result)
}

// DeleteNote permanently removes a note. Returns the number of rows removed.
func DeleteNote(ctx context.Context, q Querier, id int64) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return rowsAffected(result)
}

// InsertLabel stores a label, failing if it already exists.
func InsertLabel(ctx context.Context, q Querier, value string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO labels (value) VALUES (?)`, value)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewLabelAlreadyExists(value)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// InsertLabelIgnore stores a label unless it already exists.
func InsertLabelIgnore(ctx context.Context, q Querier, value string) error {
	if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO labels (value) VALUES (?)`, value); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteLabelRow removes a label from the label table only.
func DeleteLabelRow(ctx context.Context, q Querier, value string) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM labels WHERE value = ?`, value)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return rowsAffected(result)
}

// LabelExists reports whether a label is in the label table.
func LabelExists(ctx context.Context, q Querier, value string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM labels WHERE value = ? LIMIT 1`, value).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// ListLabels returns all labels in alphabetical order.
func ListLabels(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT value FROM labels ORDER BY value`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	labels := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.NewInternal(err)
		}
		labels = append(labels, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return labels, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanNote scans a single row into a Note.
func scanNote(row scanner) (*note.Note, error) {
	var (
		n          note.Note
		typ        string
		folder     string
		labelsJSON string
		spansJSON  string
		itemsJSON  string
	)

	err := row.Scan(
		&n.ID, &typ, &folder, &n.Title, &n.Pinned, &n.Timestamp,
		&labelsJSON, &n.Body, &spansJSON, &itemsJSON,
	)
	if err != nil {
		return nil, err
	}
	n.Type = note.Type(typ)
	n.Folder = note.Folder(folder)

	if err := json.Unmarshal([]byte(labelsJSON), &n.Labels); err != nil {
		return nil, fmt.Errorf("note %d labels: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(spansJSON), &n.Spans); err != nil {
		return nil, fmt.Errorf("note %d spans: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(itemsJSON), &n.Items); err != nil {
		return nil, fmt.Errorf("note %d items: %w", n.ID, err)
	}
	// Keep empty collections nil so stored and in-memory notes compare equal.
	if len(n.Labels) == 0 {
		n.Labels = nil
	}
	if len(n.Spans) == 0 {
		n.Spans = nil
	}
	if len(n.Items) == 0 {
		n.Items = nil
	}

	return &n, nil
}

func encodeNoteJSON(n *note.Note) (labels, spans, items string, err error) {
	if labels, err = marshalList(note.NormalizeLabels(n.Labels)); err != nil {
		return
	}
	if spans, err = marshalList(n.Spans); err != nil {
		return
	}
	items, err = marshalList(n.Items)
	return
}

// marshalList encodes a slice as a JSON array, using [] for nil.
func marshalList[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func rowsAffected(result sql.Result) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// escapeLike escapes LIKE wildcards using backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE or PRIMARY KEY violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}
