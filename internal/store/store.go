// Package store is the persistence layer for notes and labels. Writes run in
// scoped transactions; reads are exposed as live queries that re-run after
// every committed write to the tables they read.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/notally/notally/internal/db"
	"github.com/notally/notally/internal/errors"
	"github.com/notally/notally/internal/note"
)

// Store wraps the database and tracks live queries.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	// writeMu serializes transactions within the process. Transactions from
	// other processes wait on SQLite's busy timeout.
	writeMu sync.Mutex

	mu      sync.Mutex
	queries map[liveQuery]struct{}
	closed  bool
}

// New creates a Store over an initialized database (see db.Init).
func New(database *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:      database,
		log:     log,
		queries: make(map[liveQuery]struct{}),
	}
}

// Open initializes the database in dataDir and returns a Store over it.
func Open(dataDir string, log zerolog.Logger) (*Store, error) {
	database, err := db.Init(dataDir)
	if err != nil {
		return nil, err
	}
	return New(database, log), nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close ends every live query and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	queries := make([]liveQuery, 0, len(s.queries))
	for q := range s.queries {
		queries = append(queries, q)
	}
	s.queries = map[liveQuery]struct{}{}
	s.mu.Unlock()

	for _, q := range queries {
		q.shutdown()
	}
	return s.db.Close()
}

// Transaction runs fn inside a database transaction. The transaction commits
// when fn returns nil and rolls back when fn returns an error or panics.
// Live queries reading the tables written by fn are refreshed after commit.
// Transactions are serialized; fn must not call Transaction itself.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	touched, err := s.commit(ctx, fn)
	if err != nil {
		return err
	}
	if touched != 0 {
		s.log.Debug().Uint8("tables", uint8(touched)).Msg("transaction committed")
		s.notify(touched)
	}
	return nil
}

// commit runs fn under the write lock and returns the tables it wrote.
func (s *Store) commit(ctx context.Context, fn func(tx *Tx) error) (table, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	tx := &Tx{tx: sqlTx}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return 0, err
	}
	if err := sqlTx.Commit(); err != nil {
		return 0, errors.NewInternal(err)
	}
	return tx.touched, nil
}

// notify re-runs the live queries that read any of the touched tables.
// It runs in the committing goroutine so a write is visible to subscribers
// before the write call returns.
func (s *Store) notify(touched table) {
	s.mu.Lock()
	targets := make([]liveQuery, 0, len(s.queries))
	for q := range s.queries {
		if q.reads()&touched != 0 {
			targets = append(targets, q)
		}
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, q := range targets {
		q.refresh(ctx)
	}
}

func (s *Store) register(q liveQuery) {
	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.queries[q] = struct{}{}
	}
	s.mu.Unlock()
	if closed {
		q.shutdown()
	}
}

func (s *Store) unregister(q liveQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queries, q)
}

// =============================================================================
// Writes
// =============================================================================

// InsertNotes upserts notes in one transaction. Notes with a zero ID receive
// their assigned ID.
func (s *Store) InsertNotes(ctx context.Context, notes []*note.Note) error {
	return s.Transaction(ctx, func(tx *Tx) error {
		return tx.InsertNotes(ctx, notes)
	})
}

// InsertNote upserts a single note.
func (s *Store) InsertNote(ctx context.Context, n *note.Note) error {
	return s.InsertNotes(ctx, []*note.Note{n})
}

// InsertLabels adds labels, ignoring ones that already exist.
func (s *Store) InsertLabels(ctx context.Context, labels []note.Label) error {
	return s.Transaction(ctx, func(tx *Tx) error {
		return tx.InsertLabels(ctx, labels)
	})
}

// InsertLabel adds a single label. Returns LABEL_ALREADY_EXISTS on conflict.
func (s *Store) InsertLabel(ctx context.Context, label note.Label) error {
	return s.Transaction(ctx, func(tx *Tx) error {
		return tx.InsertLabel(ctx, label)
	})
}

// MoveToFolder moves a note to folder. A missing note is a no-op.
func (s *Store) MoveToFolder(ctx context.Context, id int64, folder note.Folder) error {
	return s.Transaction(ctx, func(tx *Tx) error {
		return tx.MoveToFolder(ctx, id, folder)
	})
}

// MoveToDeleted moves a note to the DELETED folder.
func (s *Store) MoveToDeleted(ctx context.Context, id int64) error {
	return s.MoveToFolder(ctx, id, note.FolderDeleted)
}

// MoveToArchive moves a note to the ARCHIVED folder.
func (s *Store) MoveToArchive(ctx context.Context, id int64) error {
	return s.MoveToFolder(ctx, id, note.FolderArchived)
}

// Restore moves a note back to the NOTES folder.
func (s *Store) Restore(ctx context.Context, id int64) error {
	return s.MoveToFolder(ctx, id, note.FolderNotes)
}

// DeleteForever permanently removes a note from the DELETED folder.
func (s *Store) DeleteForever(ctx context.Context, id int64) error {
	return s.Transaction(ctx, func(tx *Tx) error {
		return tx.DeleteForever(ctx, id)
	})
}

// UpdateLabels replaces the label set of a note.
func (s *Store) UpdateLabels(ctx context.Context, id int64, labels []string) error {
	return s.Transaction(ctx, func(tx *Tx) error {
		return tx.UpdateLabels(ctx, id, labels)
	})
}

// DeleteLabel removes a label and strips it from every note.
func (s *Store) DeleteLabel(ctx context.Context, value string) error {
	return s.Transaction(ctx, func(tx *Tx) error {
		return tx.DeleteLabel(ctx, value)
	})
}

// RenameLabel renames a label on the label list and on every note.
func (s *Store) RenameLabel(ctx context.Context, oldValue, newValue string) error {
	return s.Transaction(ctx, func(tx *Tx) error {
		return tx.RenameLabel(ctx, oldValue, newValue)
	})
}

// =============================================================================
// Reads
// =============================================================================

// Note returns a single note by ID.
func (s *Store) Note(ctx context.Context, id int64) (*note.Note, error) {
	return db.GetNote(ctx, s.db, id)
}

// NotesIn returns a live query over one folder.
func (s *Store) NotesIn(folder note.Folder) *Query[*note.Note] {
	return newQuery(s, fmt.Sprintf("notes_in:%s", folder), tableNotes, notesFilter(db.NoteFilter{Folder: folder}))
}

// NotesByLabel returns a live query over the NOTES folder restricted to label.
func (s *Store) NotesByLabel(label string) *Query[*note.Note] {
	return newQuery(s, "notes_by_label:"+label, tableNotes,
		notesFilter(db.NoteFilter{Folder: note.FolderNotes, Label: label}))
}

// Search returns a live query over the NOTES folder matching keyword in the
// title, body or checklist items.
func (s *Store) Search(keyword string) *Query[*note.Note] {
	return newQuery(s, "search:"+keyword, tableNotes,
		notesFilter(db.NoteFilter{Folder: note.FolderNotes, Keyword: keyword}))
}

// Labels returns a live query over all labels.
func (s *Store) Labels() *Query[string] {
	return newQuery(s, "labels", tableLabels, db.ListLabels)
}

// NotesInList returns a snapshot of one folder.
func (s *Store) NotesInList(ctx context.Context, folder note.Folder) ([]*note.Note, error) {
	return db.ListNotes(ctx, s.db, db.NoteFilter{Folder: folder})
}

// LabelsList returns a snapshot of all labels.
func (s *Store) LabelsList(ctx context.Context) ([]string, error) {
	return db.ListLabels(ctx, s.db)
}

func notesFilter(filter db.NoteFilter) func(context.Context, db.Querier) ([]*note.Note, error) {
	return func(ctx context.Context, q db.Querier) ([]*note.Note, error) {
		return db.ListNotes(ctx, q, filter)
	}
}
