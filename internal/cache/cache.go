// Package cache keeps one live per-label query for the lifetime of a session.
package cache

import (
	"sync"

	"github.com/notally/notally/internal/note"
	"github.com/notally/notally/internal/store"
)

// LabelCache maps a label string to its live query handle. The same label
// always yields the same handle. Entries are never evicted; a handle for a
// renamed or deleted label stays valid and simply resolves to no notes.
type LabelCache struct {
	store *store.Store

	mu      sync.Mutex
	queries map[string]*store.Query[*note.Note]
	closed  bool
}

// NewLabelCache creates an empty cache over s.
func NewLabelCache(s *store.Store) *LabelCache {
	return &LabelCache{
		store:   s,
		queries: make(map[string]*store.Query[*note.Note]),
	}
}

// Get returns the live query for label, creating it on first use.
// The label string is used as given; callers normalize if they need to.
func (c *LabelCache) Get(label string) *store.Query[*note.Note] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if q, ok := c.queries[label]; ok {
		return q
	}
	q := c.store.NotesByLabel(label)
	if !c.closed {
		c.queries[label] = q
	} else {
		q.Close()
	}
	return q
}

// Len returns the number of cached handles.
func (c *LabelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

// Close closes every cached handle.
func (c *LabelCache) Close() {
	c.mu.Lock()
	queries := c.queries
	c.queries = make(map[string]*store.Query[*note.Note])
	c.closed = true
	c.mu.Unlock()

	for _, q := range queries {
		q.Close()
	}
}
