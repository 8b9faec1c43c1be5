// Package render turns notes into shareable files: HTML, plain text and PDF.
package render

import (
	"html"
	"strings"
	"time"

	"github.com/notally/notally/internal/config"
	"github.com/notally/notally/internal/note"
)

// maxFileNameRunes bounds the base name of an exported file.
const maxFileNameRunes = 64

// Settings controls the parts of the output that depend on user preferences.
type Settings struct {
	ShowDateCreated bool
	DateLayout      string
	Location        *time.Location
}

// DefaultSettings shows the creation date in the local zone.
func DefaultSettings() Settings {
	return Settings{
		ShowDateCreated: true,
		DateLayout:      config.DefaultDateFormat,
		Location:        time.Local,
	}
}

// SettingsFromConfig derives Settings from the user configuration.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	s := DefaultSettings()
	if cfg == nil {
		return s, nil
	}
	s.ShowDateCreated = cfg.ShowDate()
	if cfg.DateFormat != "" {
		s.DateLayout = cfg.DateFormat
	}
	loc, err := cfg.Location()
	if err != nil {
		return s, err
	}
	s.Location = loc
	return s, nil
}

// FormatDate renders a Unix-millisecond timestamp.
func (s Settings) FormatDate(ms int64) string {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	layout := s.DateLayout
	if layout == "" {
		layout = config.DefaultDateFormat
	}
	return time.UnixMilli(ms).In(loc).Format(layout)
}

// FileName derives a file base name from a note: the title, or else the
// first two space-separated words of its text, each followed by a space.
// The result is cut to 64 characters and stripped of path separators.
func FileName(n *note.Note) string {
	name := n.Title
	if name == "" {
		words := strings.Split(n.Text(), " ")
		if len(words) > 2 {
			words = words[:2]
		}
		var b strings.Builder
		for _, w := range words {
			b.WriteString(w)
			b.WriteByte(' ')
		}
		name = b.String()
	}

	if runes := []rune(name); len(runes) > maxFileNameRunes {
		name = string(runes[:maxFileNameRunes])
	}
	name = strings.NewReplacer("/", "", "\\", "", "\x00", "").Replace(name)

	if strings.TrimSpace(name) == "" {
		return "Untitled"
	}
	return name
}

// HTML renders a note as a standalone HTML document.
func HTML(n *note.Note, s Settings) (string, error) {
	var b strings.Builder
	b.WriteString(`<html><head><meta charset="UTF-8" /></head><body>`)
	b.WriteString("<h2>")
	b.WriteString(html.EscapeString(n.Title))
	b.WriteString("</h2>")

	if s.ShowDateCreated {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(s.FormatDate(n.Timestamp)))
		b.WriteString("</p>")
	}

	switch n.Type {
	case note.TypeList:
		b.WriteString("<ol>")
		for _, item := range n.Items {
			b.WriteString("<li>")
			b.WriteString(html.EscapeString(item.Body))
			b.WriteString("</li>")
		}
		b.WriteString("</ol>")
	default:
		body, err := bodyHTML(n.Body, n.Spans)
		if err != nil {
			return "", err
		}
		b.WriteString(body)
	}

	b.WriteString("</body></html>")
	return b.String(), nil
}

// PlainText renders a note as text: the title and date (when present and
// enabled), each followed by a blank line, then the note text verbatim.
func PlainText(n *note.Note, s Settings) string {
	var b strings.Builder
	if n.Title != "" {
		b.WriteString(n.Title)
		b.WriteString("\n\n")
	}
	if s.ShowDateCreated {
		b.WriteString(s.FormatDate(n.Timestamp))
		b.WriteString("\n\n")
	}
	b.WriteString(n.Text())
	return b.String()
}
