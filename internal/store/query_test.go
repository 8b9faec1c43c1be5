package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/notally/notally/internal/note"
)

func receive[T any](t *testing.T, ch <-chan []T) []T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for query result")
		return nil
	}
}

func TestSubscribe_DeliversCurrentThenUpdates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := plainNote("first", 1000)
	require.NoError(t, s.InsertNote(ctx, first))

	q := s.NotesIn(note.FolderNotes)
	defer q.Close()
	ch, cancel := q.Subscribe(ctx)
	defer cancel()

	require.Equal(t, []int64{first.ID}, ids(receive(t, ch)))

	second := plainNote("second", 2000)
	require.NoError(t, s.InsertNote(ctx, second))
	require.Equal(t, []int64{second.ID, first.ID}, ids(receive(t, ch)))

	require.NoError(t, s.MoveToDeleted(ctx, first.ID))
	require.Equal(t, []int64{second.ID}, ids(receive(t, ch)))
}

func TestSubscribe_LatestWins(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	q := s.NotesIn(note.FolderNotes)
	defer q.Close()
	ch, cancel := q.Subscribe(ctx)
	defer cancel()
	require.Empty(t, receive(t, ch))

	// Three commits without reading: only the newest result is pending.
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.InsertNote(ctx, plainNote("n", i*1000)))
	}
	require.Len(t, receive(t, ch), 3)

	select {
	case v := <-ch:
		t.Fatalf("unexpected stale result %v", ids(v))
	default:
	}
}

func TestSubscribe_IgnoresUnrelatedTables(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	q := s.NotesIn(note.FolderNotes)
	defer q.Close()
	ch, cancel := q.Subscribe(ctx)
	defer cancel()
	receive(t, ch)

	require.NoError(t, s.InsertLabel(ctx, note.Label{Value: "work"}))
	select {
	case v := <-ch:
		t.Fatalf("label write pushed a notes result %v", ids(v))
	default:
	}
}

func TestSubscribe_LabelsQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	q := s.Labels()
	defer q.Close()
	ch, cancel := q.Subscribe(ctx)
	defer cancel()
	require.Empty(t, receive(t, ch))

	require.NoError(t, s.InsertLabel(ctx, note.Label{Value: "work"}))
	require.Equal(t, []string{"work"}, receive(t, ch))

	require.NoError(t, s.RenameLabel(ctx, "work", "job"))
	require.Equal(t, []string{"job"}, receive(t, ch))
}

func TestSubscribe_ContextEndCloses(t *testing.T) {
	s := openTestStore(t)

	q := s.Labels()
	defer q.Close()
	ctx, cancelCtx := context.WithCancel(context.Background())
	ch, cancel := q.Subscribe(ctx)
	defer cancel()
	receive(t, ch)

	cancelCtx()
	require.Eventually(t, func() bool { return q.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
	_, ok := <-ch
	require.False(t, ok)
}

func TestStoreClose_ClosesQueries(t *testing.T) {
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	q := s.NotesIn(note.FolderNotes)
	ch, cancel := q.Subscribe(context.Background())
	defer cancel()
	receive(t, ch)

	require.NoError(t, s.Close())
	_, ok := <-ch
	require.False(t, ok)

	// Subscribing to a closed query yields a closed channel.
	ch2, _ := q.Subscribe(context.Background())
	_, ok = <-ch2
	require.False(t, ok)
}
