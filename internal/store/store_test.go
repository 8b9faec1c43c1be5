package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/notally/notally/internal/errors"
	"github.com/notally/notally/internal/note"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func plainNote(title string, ts int64, labels ...string) *note.Note {
	return &note.Note{
		Type:      note.TypeNote,
		Folder:    note.FolderNotes,
		Title:     title,
		Timestamp: ts,
		Labels:    labels,
	}
}

func ids(notes []*note.Note) []int64 {
	out := make([]int64, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.ID)
	}
	return out
}

func TestFolderLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := plainNote("lifecycle", 1000)
	require.NoError(t, s.InsertNote(ctx, n))
	require.NotZero(t, n.ID)

	// Each note is in exactly one folder at a time.
	assertFolder := func(want note.Folder) {
		t.Helper()
		for _, f := range note.Folders {
			list, err := s.NotesInList(ctx, f)
			require.NoError(t, err)
			if f == want {
				require.Equal(t, []int64{n.ID}, ids(list), "folder %s", f)
			} else {
				require.Empty(t, list, "folder %s", f)
			}
		}
	}
	assertFolder(note.FolderNotes)

	require.NoError(t, s.MoveToArchive(ctx, n.ID))
	assertFolder(note.FolderArchived)

	require.NoError(t, s.MoveToDeleted(ctx, n.ID))
	assertFolder(note.FolderDeleted)

	require.NoError(t, s.Restore(ctx, n.ID))
	assertFolder(note.FolderNotes)

	// Deleting forever outside DELETED is refused.
	err := s.DeleteForever(ctx, n.ID)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "err = %v", err)

	require.NoError(t, s.MoveToDeleted(ctx, n.ID))
	require.NoError(t, s.DeleteForever(ctx, n.ID))
	_, err = s.Note(ctx, n.ID)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMissingIDsAreNoOps(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.MoveToDeleted(ctx, 404))
	require.NoError(t, s.DeleteForever(ctx, 404))
	require.NoError(t, s.UpdateLabels(ctx, 404, []string{"x"}))
}

func TestMoveToFolder_InvalidFolder(t *testing.T) {
	s := openTestStore(t)
	err := s.MoveToFolder(context.Background(), 1, note.Folder("TRASH"))
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestInsertNotes_BatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	existing := plainNote("existing", 1000)
	require.NoError(t, s.InsertNote(ctx, existing))

	batch := []*note.Note{
		plainNote("fresh", 2000),
		{ID: existing.ID, Type: note.TypeList, Folder: note.FolderNotes, Timestamp: 3000},
	}
	err := s.InsertNotes(ctx, batch)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "err = %v", err)

	all, err := s.NotesInList(ctx, note.FolderNotes)
	require.NoError(t, err)
	require.Len(t, all, 1, "first note of the failed batch must be rolled back")
}

func TestInsertNotes_UpsertByID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := plainNote("v1", 1000)
	require.NoError(t, s.InsertNote(ctx, n))

	replacement := plainNote("v2", 1000)
	replacement.ID = n.ID
	require.NoError(t, s.InsertNote(ctx, replacement))

	got, err := s.Note(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, "v2", got.Title)
}

func TestLabels_InsertStrictAndIgnore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertLabel(ctx, note.Label{Value: "work"}))
	err := s.InsertLabel(ctx, note.Label{Value: " work "})
	require.True(t, errors.Is(err, errors.ErrLabelAlreadyExists), "err = %v", err)

	require.NoError(t, s.InsertLabels(ctx, []note.Label{{Value: "work"}, {Value: "home"}, {Value: "  "}}))

	labels, err := s.LabelsList(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"home", "work"}, labels)

	err = s.InsertLabel(ctx, note.Label{Value: ""})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestRenameLabel_Cascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertLabels(ctx, []note.Label{{Value: "work"}, {Value: "home"}}))
	a := plainNote("a", 1000, "work")
	b := plainNote("b", 2000, "work", "home")
	c := plainNote("c", 3000, "home")
	archived := plainNote("archived", 4000, "work")
	archived.Folder = note.FolderArchived
	require.NoError(t, s.InsertNotes(ctx, []*note.Note{a, b, c, archived}))

	before, err := s.NotesByLabel("work").Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, s.RenameLabel(ctx, "work", "job"))

	after, err := s.NotesByLabel("job").Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, ids(before), ids(after))

	gone, err := s.NotesByLabel("work").Snapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, gone)

	// The cascade reaches every folder.
	got, err := s.Note(ctx, archived.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"job"}, got.Labels)

	labels, err := s.LabelsList(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"home", "job"}, labels)
}

func TestRenameLabel_MergesIntoExisting(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertLabels(ctx, []note.Label{{Value: "work"}, {Value: "job"}}))
	n := plainNote("both", 1000, "work", "job")
	require.NoError(t, s.InsertNote(ctx, n))

	require.NoError(t, s.RenameLabel(ctx, "work", "job"))

	got, err := s.Note(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"job"}, got.Labels)

	labels, err := s.LabelsList(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"job"}, labels)
}

func TestRenameLabel_EmptyTarget(t *testing.T) {
	s := openTestStore(t)
	err := s.RenameLabel(context.Background(), "work", "  ")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestDeleteLabel_Cascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertLabels(ctx, []note.Label{{Value: "work"}, {Value: "home"}}))
	n := plainNote("n", 1000, "work", "home")
	require.NoError(t, s.InsertNote(ctx, n))

	require.NoError(t, s.DeleteLabel(ctx, "work"))

	got, err := s.Note(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"home"}, got.Labels)

	labels, err := s.LabelsList(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"home"}, labels)
}

func TestUpdateLabels_Normalizes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := plainNote("n", 1000)
	require.NoError(t, s.InsertNote(ctx, n))
	require.NoError(t, s.UpdateLabels(ctx, n.ID, []string{"b", " a ", "b", ""}))

	got, err := s.Note(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got.Labels)
}

func TestTransaction_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.Transaction(ctx, func(tx *Tx) error {
		if err := tx.InsertNotes(ctx, []*note.Note{plainNote("doomed", 1000)}); err != nil {
			return err
		}
		if err := tx.InsertLabels(ctx, []note.Label{{Value: "doomed"}}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.EqualError(t, err, "abort")

	notes, err := s.NotesInList(ctx, note.FolderNotes)
	require.NoError(t, err)
	require.Empty(t, notes)
	labels, err := s.LabelsList(ctx)
	require.NoError(t, err)
	require.Empty(t, labels)
}

func TestTransaction_RollbackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.Panics(t, func() {
		_ = s.Transaction(ctx, func(tx *Tx) error {
			if err := tx.InsertNotes(ctx, []*note.Note{plainNote("doomed", 1000)}); err != nil {
				return err
			}
			panic("boom")
		})
	})

	notes, err := s.NotesInList(ctx, note.FolderNotes)
	require.NoError(t, err)
	require.Empty(t, notes)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a := plainNote("Shopping", 1000)
	a.Body = "eggs and flour"
	b := &note.Note{
		Type:      note.TypeList,
		Folder:    note.FolderNotes,
		Title:     "Weekend",
		Timestamp: 2000,
		Items:     []note.ListItem{{Body: "bake bread with flour"}},
	}
	deleted := plainNote("flour in trash", 3000)
	deleted.Folder = note.FolderDeleted
	require.NoError(t, s.InsertNotes(ctx, []*note.Note{a, b, deleted}))

	got, err := s.Search("FLOUR").Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{b.ID, a.ID}, ids(got))

	got, err = s.Search("").Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

// seedDeleted stores n DELETED notes labeled "work" and returns their ids.
func seedDeleted(t *testing.T, s *Store, n int) []int64 {
	t.Helper()
	notes := make([]*note.Note, n)
	for i := range notes {
		notes[i] = plainNote(fmt.Sprintf("n%d", i), int64(i+1), "work")
		notes[i].Folder = note.FolderDeleted
	}
	require.NoError(t, s.InsertNotes(context.Background(), notes))
	return ids(notes)
}

func TestConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.InsertLabel(ctx, note.Label{Value: "work"}))
	noteIDs := seedDeleted(t, s, 100)

	var g errgroup.Group
	for i, id := range noteIDs {
		g.Go(func() error { return s.DeleteForever(ctx, id) })
		if i%2 == 0 {
			g.Go(func() error { return s.RenameLabel(ctx, "work", "job") })
		} else {
			g.Go(func() error { return s.RenameLabel(ctx, "job", "work") })
		}
	}
	require.NoError(t, g.Wait())

	deleted, err := s.NotesInList(ctx, note.FolderDeleted)
	require.NoError(t, err)
	require.Empty(t, deleted)
}

func TestConcurrentWrites_SharedFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	defer first.Close()
	second, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	defer second.Close()

	noteIDs := seedDeleted(t, first, 40)

	var g errgroup.Group
	for i, id := range noteIDs {
		s := first
		if i%2 == 1 {
			s = second
		}
		g.Go(func() error { return s.DeleteForever(ctx, id) })
		g.Go(func() error { return s.UpdateLabels(ctx, id, []string{"a"}) })
	}
	require.NoError(t, g.Wait())

	remaining, err := second.NotesInList(ctx, note.FolderDeleted)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestRenameLabel_AddsTargetForUnlistedLabel(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := plainNote("orphan label", 1, "work")
	require.NoError(t, s.InsertNote(ctx, n))

	require.NoError(t, s.RenameLabel(ctx, "work", "job"))

	got, err := s.Note(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"job"}, got.Labels)

	labels, err := s.LabelsList(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"job"}, labels)
}

func TestRenameLabel_UnusedLabelAddsNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RenameLabel(ctx, "ghost", "job"))

	labels, err := s.LabelsList(ctx)
	require.NoError(t, err)
	require.Empty(t, labels)
}
