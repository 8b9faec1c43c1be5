package render

import (
	"bytes"
	"html"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/notally/notally/internal/note"
)

// markdown renders note bodies. Hard wraps keep single line breaks; unsafe
// mode lets through the inline tags produced for spans. All body text is
// backslash-escaped before conversion, so those tags are the only raw HTML.
var markdown = goldmark.New(
	goldmark.WithRendererOptions(
		gmhtml.WithHardWraps(),
		gmhtml.WithUnsafe(),
	),
)

type style uint8

const (
	styleLink style = 1 << iota
	styleBold
	styleItalic
	styleMonospace
	styleStrike
)

// tag order, outermost first
var styleTags = []struct {
	style style
	open  string
	close string
}{
	{styleBold, "<strong>", "</strong>"},
	{styleItalic, "<em>", "</em>"},
	{styleStrike, "<del>", "</del>"},
	{styleMonospace, "<code>", "</code>"},
}

func spanStyle(s note.Span) style {
	var st style
	if s.Link {
		st |= styleLink
	}
	if s.Bold {
		st |= styleBold
	}
	if s.Italic {
		st |= styleItalic
	}
	if s.Monospace {
		st |= styleMonospace
	}
	if s.Strikethrough {
		st |= styleStrike
	}
	return st
}

// bodyHTML renders a plain-text body with its spans as HTML.
func bodyHTML(body string, spans []note.Span) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(spansToMarkup(body, spans)), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// spansToMarkup converts body and spans into Markdown with inline HTML tags.
// Spans may overlap; the body is cut at every span boundary and at every
// line break, and each piece is wrapped in the tags of the spans covering it.
func spansToMarkup(body string, spans []note.Span) string {
	runes := []rune(body)

	cuts := map[int]bool{0: true, len(runes): true}
	for _, s := range spans {
		if !validSpan(s, len(runes)) {
			continue
		}
		cuts[s.Start] = true
		cuts[s.End] = true
	}
	for i, r := range runes {
		if r == '\n' {
			cuts[i] = true
			cuts[i+1] = true
		}
	}
	points := make([]int, 0, len(cuts))
	for p := range cuts {
		if p <= len(runes) {
			points = append(points, p)
		}
	}
	sort.Ints(points)

	var b strings.Builder
	lineStart := true
	for i := 0; i+1 < len(points); i++ {
		start, end := points[i], points[i+1]
		text := string(runes[start:end])
		if text == "\n" {
			b.WriteByte('\n')
			lineStart = true
			continue
		}

		var st style
		var href string
		for _, s := range spans {
			if !validSpan(s, len(runes)) {
				continue
			}
			if s.Start <= start && end <= s.End {
				st |= spanStyle(s)
				if s.Link && href == "" {
					href = string(runes[s.Start:s.End])
				}
			}
		}

		escaped := escapeMarkdown(text, lineStart)
		lineStart = false

		if st&styleLink != 0 {
			b.WriteString(`<a href="`)
			b.WriteString(html.EscapeString(href))
			b.WriteString(`">`)
		}
		for _, t := range styleTags {
			if st&t.style != 0 {
				b.WriteString(t.open)
			}
		}
		b.WriteString(escaped)
		for j := len(styleTags) - 1; j >= 0; j-- {
			if st&styleTags[j].style != 0 {
				b.WriteString(styleTags[j].close)
			}
		}
		if st&styleLink != 0 {
			b.WriteString("</a>")
		}
	}
	return b.String()
}

// escapeMarkdown makes text literal in Markdown: ASCII punctuation is
// backslash-escaped and, at the start of a line, indentation becomes
// non-breaking spaces so it cannot open a code block.
func escapeMarkdown(text string, atLineStart bool) string {
	var b strings.Builder
	leading := atLineStart
	for _, r := range text {
		if leading {
			switch r {
			case ' ':
				b.WriteString("&#160;")
				continue
			case '\t':
				b.WriteString("&#160;&#160;&#160;&#160;")
				continue
			}
			leading = false
		}
		if r < 128 && isASCIIPunct(byte(r)) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func validSpan(s note.Span, length int) bool {
	return s.Start >= 0 && s.End <= length && s.Start < s.End
}

func isASCIIPunct(c byte) bool {
	return (c >= '!' && c <= '/') || (c >= ':' && c <= '@') || (c >= '[' && c <= '`') || (c >= '{' && c <= '~')
}
