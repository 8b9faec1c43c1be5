package note

// Record is the portable JSON shape of a note.
// It is used by the backup format and by tool output.
type Record struct {
	ID        int64      `json:"id"`
	Type      Type       `json:"type"`
	Folder    Folder     `json:"folder"`
	Title     string     `json:"title"`
	Pinned    bool       `json:"pinned"`
	Timestamp int64      `json:"timestamp"`
	Labels    []string   `json:"labels"`
	Body      string     `json:"body,omitempty"`
	Spans     []Span     `json:"spans,omitempty"`
	Items     []ListItem `json:"items,omitempty"`
}

// ToNote converts a Record to a Note. Labels are normalized.
func (r *Record) ToNote() *Note {
	return &Note{
		ID:        r.ID,
		Type:      r.Type,
		Folder:    r.Folder,
		Title:     r.Title,
		Pinned:    r.Pinned,
		Timestamp: r.Timestamp,
		Labels:    NormalizeLabels(r.Labels),
		Body:      r.Body,
		Spans:     r.Spans,
		Items:     r.Items,
	}
}

// ToRecord converts a Note to its Record form.
func ToRecord(n *Note) *Record {
	labels := n.Labels
	if labels == nil {
		labels = []string{}
	}
	return &Record{
		ID:        n.ID,
		Type:      n.Type,
		Folder:    n.Folder,
		Title:     n.Title,
		Pinned:    n.Pinned,
		Timestamp: n.Timestamp,
		Labels:    labels,
		Body:      n.Body,
		Spans:     n.Spans,
		Items:     n.Items,
	}
}

// ToRecords converts a slice of notes.
func ToRecords(notes []*Note) []*Record {
	out := make([]*Record, len(notes))
	for i, n := range notes {
		out[i] = ToRecord(n)
	}
	return out
}
