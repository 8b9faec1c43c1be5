// Package backup encodes and decodes the full note corpus as a versioned
// JSON Lines stream.
package backup

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/notally/notally/internal/errors"
	"github.com/notally/notally/internal/note"
)

// SchemaVersion is written into every backup header. Readers accept any
// version with the same major number.
const SchemaVersion = "1.0"

// Backup is the complete user corpus.
type Backup struct {
	Notes         []*note.Note
	DeletedNotes  []*note.Note
	ArchivedNotes []*note.Note
	Labels        []string
}

// Section names one of the three note lists in a stream.
type Section string

const (
	SectionNotes    Section = "notes"
	SectionDeleted  Section = "deleted_notes"
	SectionArchived Section = "archived_notes"
)

var sectionFolders = map[Section]note.Folder{
	SectionNotes:    note.FolderNotes,
	SectionDeleted:  note.FolderDeleted,
	SectionArchived: note.FolderArchived,
}

// Header is the first line of a backup stream.
type Header struct {
	NotallyBackup bool   `json:"_notally_backup"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
	BackupID      string `json:"backup_id"`
}

const (
	kindNote  = "note"
	kindLabel = "label"
)

// entry is one body line of a backup stream.
type entry struct {
	Kind    string  `json:"kind"`
	Section Section `json:"section,omitempty"`
	Value   string  `json:"value,omitempty"`
	*note.Record
}

// AllNotes returns the three sections concatenated: notes, deleted, archived.
func (b *Backup) AllNotes() []*note.Note {
	all := make([]*note.Note, 0, b.Count())
	all = append(all, b.Notes...)
	all = append(all, b.DeletedNotes...)
	all = append(all, b.ArchivedNotes...)
	return all
}

// Count returns the number of notes across all sections.
func (b *Backup) Count() int {
	return len(b.Notes) + len(b.DeletedNotes) + len(b.ArchivedNotes)
}

// NewBackupID returns a fresh, time-ordered backup identifier.
func NewBackupID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Encode writes b to w. When w is a regular *os.File it is truncated and
// rewound first, so an existing destination is overwritten rather than appended to.
func Encode(w io.Writer, b *Backup) (*Header, error) {
	if f, ok := w.(*os.File); ok && isRegular(f) {
		if err := f.Truncate(0); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("truncate backup destination: %w", err))
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("rewind backup destination: %w", err))
		}
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	header := &Header{
		NotallyBackup: true,
		SchemaVersion: SchemaVersion,
		ExportedAt:    time.Now().Unix(),
		BackupID:      NewBackupID(),
	}
	if err := enc.Encode(header); err != nil {
		return nil, errors.NewInternal(err)
	}

	for _, sec := range []struct {
		name  Section
		notes []*note.Note
	}{
		{SectionNotes, b.Notes},
		{SectionDeleted, b.DeletedNotes},
		{SectionArchived, b.ArchivedNotes},
	} {
		for _, n := range sec.notes {
			if err := enc.Encode(entry{Kind: kindNote, Section: sec.name, Record: note.ToRecord(n)}); err != nil {
				return nil, errors.NewInternal(err)
			}
		}
	}
	for _, l := range b.Labels {
		if err := enc.Encode(entry{Kind: kindLabel, Value: l}); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return header, nil
}

func isRegular(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode().IsRegular()
}

// maxLineSize bounds a single line of a backup stream.
const maxLineSize = 64 << 20

// Decode reads a backup stream. Any malformed line makes the whole stream
// invalid: a CORRUPT_BACKUP error naming the line is returned and nothing
// is imported. Each note's folder is taken from its section.
func Decode(r io.Reader) (*Backup, *Header, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		header  *Header
		b       = &Backup{}
		labels  []string
		lineNum int
	)

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		if header == nil {
			h, err := parseHeader(line)
			if err != nil {
				return nil, nil, errors.NewCorruptBackup(lineNum, err.Error())
			}
			header = h
			continue
		}

		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, nil, errors.NewCorruptBackup(lineNum, fmt.Sprintf("invalid JSON: %v", err))
		}

		switch e.Kind {
		case kindNote:
			folder, ok := sectionFolders[e.Section]
			if !ok {
				return nil, nil, errors.NewCorruptBackup(lineNum, fmt.Sprintf("unknown section %q", e.Section))
			}
			if e.Record == nil {
				return nil, nil, errors.NewCorruptBackup(lineNum, "note line has no note fields")
			}
			n := e.Record.ToNote()
			n.Folder = folder
			if err := n.Validate(); err != nil {
				return nil, nil, errors.NewCorruptBackup(lineNum, err.Error())
			}
			switch e.Section {
			case SectionNotes:
				b.Notes = append(b.Notes, n)
			case SectionDeleted:
				b.DeletedNotes = append(b.DeletedNotes, n)
			case SectionArchived:
				b.ArchivedNotes = append(b.ArchivedNotes, n)
			}
		case kindLabel:
			v := note.NormalizeLabel(e.Value)
			if v == "" {
				return nil, nil, errors.NewCorruptBackup(lineNum, "empty label")
			}
			labels = append(labels, v)
		default:
			return nil, nil, errors.NewCorruptBackup(lineNum, fmt.Sprintf("unknown kind %q", e.Kind))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.NewCorruptBackup(lineNum+1, fmt.Sprintf("read failed: %v", err))
	}
	if header == nil {
		return nil, nil, errors.NewCorruptBackup(0, "missing backup header")
	}

	b.Labels = note.NormalizeLabels(labels)
	return b, header, nil
}

func parseHeader(line []byte) (*Header, error) {
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, fmt.Errorf("invalid header: %v", err)
	}
	if !h.NotallyBackup {
		return nil, fmt.Errorf("not a notally backup")
	}
	major, _, _ := strings.Cut(h.SchemaVersion, ".")
	wantMajor, _, _ := strings.Cut(SchemaVersion, ".")
	if major != wantMajor {
		return nil, fmt.Errorf("unsupported schema version %q", h.SchemaVersion)
	}
	return &h, nil
}
