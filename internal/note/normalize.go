package note

import (
	"regexp"
	"sort"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeLabel trims a label and collapses internal whitespace.
// Case is preserved: labels are user-visible names.
func NormalizeLabel(s string) string {
	return whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " ")
}

// NormalizeLabels normalizes each label, drops empty ones and duplicates,
// and returns the set sorted. Returns nil for an empty set.
func NormalizeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	result := make([]string, 0, len(labels))
	for _, l := range labels {
		l = NormalizeLabel(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		result = append(result, l)
	}
	if len(result) == 0 {
		return nil
	}
	sort.Strings(result)
	return result
}

// ReplaceLabel returns labels with old replaced by replacement (or removed
// when replacement is empty), normalized as a set.
func ReplaceLabel(labels []string, old, replacement string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == old {
			if replacement != "" {
				out = append(out, replacement)
			}
			continue
		}
		out = append(out, l)
	}
	return NormalizeLabels(out)
}
