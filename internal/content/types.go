// Package content holds the canonical draft representation: a text string with
// inline [n] citation markers and the ordered citation records they refer to.
package content

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusEditing  Status = "editing"
	StatusComplete Status = "complete"
	StatusArchived Status = "archived"
)

// Citation is a numbered source record referenced from content by [Number].
type Citation struct {
	Number        int     `json:"number"`
	DocumentID    string  `json:"document_id"`
	DocumentName  string  `json:"document_name"`
	Excerpt       string  `json:"excerpt"`
	PageNumber    *int    `json:"page_number,omitempty"`
	SectionHeader *string `json:"section_header,omitempty"`
}

// Equal compares two records by value, including optional fields.
func (c Citation) Equal(other Citation) bool {
	if c.Number != other.Number ||
		c.DocumentID != other.DocumentID ||
		c.DocumentName != other.DocumentName ||
		c.Excerpt != other.Excerpt {
		return false
	}
	if (c.PageNumber == nil) != (other.PageNumber == nil) {
		return false
	}
	if c.PageNumber != nil && *c.PageNumber != *other.PageNumber {
		return false
	}
	if (c.SectionHeader == nil) != (other.SectionHeader == nil) {
		return false
	}
	if c.SectionHeader != nil && *c.SectionHeader != *other.SectionHeader {
		return false
	}
	return true
}

type Draft struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Citations []Citation `json:"citations"`
	WordCount int        `json:"word_count"`
	Status    Status     `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Snapshot is an immutable (content, citations) pair. Construct it with
// NewSnapshot so the citation slice is not shared with the caller.
type Snapshot struct {
	Content   string
	Citations []Citation
}

func NewSnapshot(text string, citations []Citation) Snapshot {
	return Snapshot{Content: text, Citations: CloneCitations(citations)}
}

// Equal is structural: same content string and the same citation list,
// element by element in order.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.Content != other.Content {
		return false
	}
	return CitationsEqual(s.Citations, other.Citations)
}

func CitationsEqual(a, b []Citation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// CloneCitations deep-copies records, including the optional pointer fields.
func CloneCitations(citations []Citation) []Citation {
	if citations == nil {
		return []Citation{}
	}
	out := make([]Citation, len(citations))
	for i, c := range citations {
		out[i] = c
		if c.PageNumber != nil {
			page := *c.PageNumber
			out[i].PageNumber = &page
		}
		if c.SectionHeader != nil {
			header := *c.SectionHeader
			out[i].SectionHeader = &header
		}
	}
	return out
}

// Numbers returns the set of citation numbers present in the list.
func Numbers(citations []Citation) map[int]struct{} {
	set := make(map[int]struct{}, len(citations))
	for _, c := range citations {
		set[c.Number] = struct{}{}
	}
	return set
}

// DocumentCount is the number of distinct source documents cited.
func DocumentCount(citations []Citation) int {
	seen := make(map[string]struct{}, len(citations))
	for _, c := range citations {
		seen[c.DocumentID] = struct{}{}
	}
	return len(seen)
}

var ErrDuplicateNumber = errors.New("duplicate citation number")

// CheckNumbers reports the first number that appears twice or is not positive.
func CheckNumbers(citations []Citation) error {
	seen := make(map[int]struct{}, len(citations))
	for _, c := range citations {
		if c.Number < 1 {
			return fmt.Errorf("citation number %d: must be positive", c.Number)
		}
		if _, ok := seen[c.Number]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateNumber, c.Number)
		}
		seen[c.Number] = struct{}{}
	}
	return nil
}
