package legacy

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/notally/notally/internal/note"
)

type xmlNote struct {
	XMLName     xml.Name
	DateCreated int64     `xml:"date-created"`
	Pinned      bool      `xml:"pinned"`
	Title       string    `xml:"title"`
	Body        string    `xml:"body"`
	Spans       []xmlSpan `xml:"span"`
	Labels      []string  `xml:"label"`
	Items       []xmlItem `xml:"item"`
}

type xmlSpan struct {
	Start     int  `xml:"start,attr"`
	End       int  `xml:"end,attr"`
	Bold      bool `xml:"bold,attr"`
	Italic    bool `xml:"italic,attr"`
	Monospace bool `xml:"monospace,attr"`
	Strike    bool `xml:"strike,attr"`
	Link      bool `xml:"link,attr"`
}

type xmlItem struct {
	Text    string `xml:"text"`
	Checked bool   `xml:"checked"`
}

// ParseNote decodes one legacy note document and tags it with folder.
func ParseNote(data []byte, folder note.Folder) (*note.Note, error) {
	var doc xmlNote
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode note xml: %w", err)
	}

	n := &note.Note{
		Folder:    folder,
		Title:     doc.Title,
		Pinned:    doc.Pinned,
		Timestamp: doc.DateCreated,
		Labels:    note.NormalizeLabels(doc.Labels),
	}

	switch doc.XMLName.Local {
	case "note":
		n.Type = note.TypeNote
		n.Body = doc.Body
		for _, s := range doc.Spans {
			n.Spans = append(n.Spans, note.Span{
				Start:         s.Start,
				End:           s.End,
				Bold:          s.Bold,
				Italic:        s.Italic,
				Monospace:     s.Monospace,
				Strikethrough: s.Strike,
				Link:          s.Link,
			})
		}
	case "list":
		n.Type = note.TypeList
		for _, item := range doc.Items {
			n.Items = append(n.Items, note.ListItem{Body: item.Text, Checked: item.Checked})
		}
	default:
		return nil, fmt.Errorf("unknown root element <%s>", doc.XMLName.Local)
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// ParseNoteFile reads and decodes a legacy note file.
func ParseNoteFile(path string, folder note.Folder) (*note.Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseNote(data, folder)
}

// labelSetName is the preference key holding the legacy label list.
const labelSetName = "labelItems"

// prefsMap is a shared-preferences document. Entries other than the label
// set are kept verbatim so they survive a rewrite.
type prefsMap struct {
	XMLName xml.Name     `xml:"map"`
	Entries []prefsEntry `xml:",any"`
}

type prefsEntry struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

func (e prefsEntry) name() string {
	for _, a := range e.Attrs {
		if a.Name.Local == "name" {
			return a.Value
		}
	}
	return ""
}

func (e prefsEntry) isLabelSet() bool {
	return e.XMLName.Local == "set" && e.name() == labelSetName
}

func parsePrefs(data []byte) (*prefsMap, error) {
	var m prefsMap
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode preferences xml: %w", err)
	}
	return &m, nil
}

// labels returns the values of the label set, if present.
func (m *prefsMap) labels() ([]string, error) {
	for _, e := range m.Entries {
		if !e.isLabelSet() {
			continue
		}
		var set struct {
			Strings []string `xml:"string"`
		}
		wrapped := append(append([]byte("<set>"), e.Inner...), "</set>"...)
		if err := xml.Unmarshal(wrapped, &set); err != nil {
			return nil, fmt.Errorf("decode %s: %w", labelSetName, err)
		}
		out := make([]string, 0, len(set.Strings))
		for _, s := range set.Strings {
			if v := note.NormalizeLabel(s); v != "" {
				out = append(out, v)
			}
		}
		return out, nil
	}
	return nil, nil
}

// withoutLabels renders the document with the label set removed.
func (m *prefsMap) withoutLabels() ([]byte, error) {
	kept := prefsMap{XMLName: m.XMLName}
	for _, e := range m.Entries {
		if !e.isLabelSet() {
			kept.Entries = append(kept.Entries, e)
		}
	}
	body, err := xml.MarshalIndent(kept, "", "    ")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("<?xml version='1.0' encoding='utf-8' standalone='yes' ?>\n")
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// readLabels returns the legacy label list from the preferences file.
// A missing file yields no labels.
func readLabels(path string) ([]string, *prefsMap, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil, nil
	}
	m, err := parsePrefs(data)
	if err != nil {
		return nil, nil, err
	}
	labels, err := m.labels()
	if err != nil {
		return nil, nil, err
	}
	return labels, m, nil
}
