package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/notally/notally/internal/note"
	"github.com/notally/notally/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGet_SameHandleForSameLabel(t *testing.T) {
	c := NewLabelCache(openStore(t))
	defer c.Close()

	a := c.Get("work")
	b := c.Get("work")
	if a != b {
		t.Error("Get() returned different handles for the same label")
	}
	if c.Get("home") == a {
		t.Error("Get() returned the same handle for different labels")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestGet_Concurrent(t *testing.T) {
	c := NewLabelCache(openStore(t))
	defer c.Close()

	const n = 16
	handles := make([]*store.Query[*note.Note], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = c.Get("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("handle %d differs", i)
		}
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestGet_HandleSurvivesRename(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := NewLabelCache(s)
	defer c.Close()

	n := &note.Note{Type: note.TypeNote, Folder: note.FolderNotes, Timestamp: 1, Labels: []string{"work"}}
	if err := s.InsertNote(ctx, n); err != nil {
		t.Fatal(err)
	}

	work := c.Get("work")
	got, err := work.Snapshot(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("Snapshot() = %d notes, %v", len(got), err)
	}

	if err := s.RenameLabel(ctx, "work", "job"); err != nil {
		t.Fatal(err)
	}

	if c.Get("work") != work {
		t.Error("rename evicted the cached handle")
	}
	got, err = work.Snapshot(ctx)
	if err != nil || len(got) != 0 {
		t.Errorf("old label handle = %d notes, %v; want 0", len(got), err)
	}
	got, err = c.Get("job").Snapshot(ctx)
	if err != nil || len(got) != 1 {
		t.Errorf("new label handle = %d notes, %v; want 1", len(got), err)
	}
}

func TestClose(t *testing.T) {
	c := NewLabelCache(openStore(t))
	q := c.Get("work")
	ch, cancel := q.Subscribe(context.Background())
	defer cancel()
	<-ch

	c.Close()
	if c.Len() != 0 {
		t.Errorf("Len() after Close = %d", c.Len())
	}
	if _, ok := <-ch; ok {
		t.Error("subscription still open after Close")
	}
}
