package note

import (
	"fmt"
	"slices"
	"strings"
)

// Type determines which body field of a Note is authoritative.
type Type string

const (
	TypeNote Type = "NOTE" // plain text body with spans
	TypeList Type = "LIST" // checklist items
)

// Folder is the logical bucket a note belongs to.
type Folder string

const (
	FolderNotes    Folder = "NOTES"
	FolderDeleted  Folder = "DELETED"
	FolderArchived Folder = "ARCHIVED"
)

// Folders lists every folder in display order.
var Folders = []Folder{FolderNotes, FolderDeleted, FolderArchived}

// Note is a single user note, either plain text or a checklist.
type Note struct {
	// ID is assigned by the store; zero means "not stored yet"
	ID int64

	// Type is fixed at creation
	Type Type

	// Folder is changed only through the store's folder operations
	Folder Folder

	// Title may be empty
	Title string

	// Pinned notes sort before unpinned ones
	Pinned bool

	// Timestamp is the creation instant in Unix milliseconds
	Timestamp int64

	// Labels is the set of label values attached to the note
	Labels []string

	// Body is the text of a TypeNote note
	Body string

	// Spans is the formatting metadata for Body
	Spans []Span

	// Items is the ordered content of a TypeList note
	Items []ListItem
}

// Span marks a formatted range of a note body.
// Start and End are rune offsets, End exclusive.
type Span struct {
	Start         int  `json:"start"`
	End           int  `json:"end"`
	Bold          bool `json:"bold,omitempty"`
	Italic        bool `json:"italic,omitempty"`
	Monospace     bool `json:"monospace,omitempty"`
	Strikethrough bool `json:"strikethrough,omitempty"`
	Link          bool `json:"link,omitempty"`
}

// ListItem is one line of a checklist.
type ListItem struct {
	Body    string `json:"body"`
	Checked bool   `json:"checked"`
}

// Label is a user-created tag.
type Label struct {
	Value string
}

// ParseType parses a type name, case-insensitively.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeNote, TypeList:
		return t, nil
	}
	return "", fmt.Errorf("unknown note type %q", s)
}

// ParseFolder parses a folder name. "active" is accepted as an alias for NOTES.
func ParseFolder(s string) (Folder, error) {
	switch f := Folder(strings.ToUpper(strings.TrimSpace(s))); f {
	case FolderNotes, FolderDeleted, FolderArchived:
		return f, nil
	case "ACTIVE":
		return FolderNotes, nil
	}
	return "", fmt.Errorf("unknown folder %q", s)
}

// Validate checks the structural invariants of a note.
func (n *Note) Validate() error {
	if _, err := ParseType(string(n.Type)); err != nil {
		return err
	}
	if _, err := ParseFolder(string(n.Folder)); err != nil {
		return err
	}
	switch n.Type {
	case TypeNote:
		if len(n.Items) > 0 {
			return fmt.Errorf("plain text note must not have checklist items")
		}
		length := len([]rune(n.Body))
		for _, s := range n.Spans {
			if s.Start < 0 || s.End < s.Start || s.End > length {
				return fmt.Errorf("span [%d,%d) out of range for body of length %d", s.Start, s.End, length)
			}
		}
	case TypeList:
		if len(n.Spans) > 0 {
			return fmt.Errorf("checklist note must not have spans")
		}
	}
	return nil
}

// Text returns the note content as plain text. Checklist items are written
// one per line with a "[x] " or "[ ] " marker.
func (n *Note) Text() string {
	if n.Type != TypeList {
		return n.Body
	}
	var b strings.Builder
	for i, item := range n.Items {
		if i > 0 {
			b.WriteByte('\n')
		}
		if item.Checked {
			b.WriteString("[x] ")
		} else {
			b.WriteString("[ ] ")
		}
		b.WriteString(item.Body)
	}
	return b.String()
}

// HasLabel reports whether the note carries the given label.
func (n *Note) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of n.
func (n *Note) Clone() *Note {
	c := *n
	c.Labels = slices.Clone(n.Labels)
	c.Spans = slices.Clone(n.Spans)
	c.Items = slices.Clone(n.Items)
	return &c
}
