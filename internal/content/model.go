package content

// Model is the authoritative in-memory copy of an open draft. Readers get
// copies; the only write is a whole-snapshot Apply, issued by the editor
// session after surface extraction, undo/redo or renumbering.
type Model struct {
	text      string
	citations []Citation
}

func NewModel(text string, citations []Citation) *Model {
	return &Model{text: text, citations: CloneCitations(citations)}
}

// Serialize returns the canonical content with markers in place.
func (m *Model) Serialize() string {
	return m.text
}

func (m *Model) Citations() []Citation {
	return CloneCitations(m.citations)
}

func (m *Model) Snapshot() Snapshot {
	return NewSnapshot(m.text, m.citations)
}

// Apply replaces content and citations together. It reports whether anything
// changed.
func (m *Model) Apply(s Snapshot) bool {
	if m.Snapshot().Equal(s) {
		return false
	}
	m.text = s.Content
	m.citations = CloneCitations(s.Citations)
	return true
}

// Resolved reports whether a marker number has a matching record.
func (m *Model) Resolved(number int) bool {
	for _, c := range m.citations {
		if c.Number == number {
			return true
		}
	}
	return false
}

func (m *Model) WordCount() int {
	return WordCount(m.text)
}
