package store

import (
	"time"

	"scribe/api/internal/content"
)

type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	CreatedAt   time.Time
}

type Draft struct {
	ID        string
	Title     string
	Content   string
	Citations []content.Citation
	WordCount int
	Status    content.Status
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Domain converts the row to the editor's draft type.
func (d Draft) Domain() content.Draft {
	return content.Draft{
		ID:        d.ID,
		Title:     d.Title,
		Content:   d.Content,
		Citations: content.CloneCitations(d.Citations),
		WordCount: d.WordCount,
		Status:    d.Status,
		UpdatedAt: d.UpdatedAt,
	}
}

type DraftSummary struct {
	ID            string
	Title         string
	Status        content.Status
	WordCount     int
	CitationCount int
	UpdatedAt     time.Time
}

type Feedback struct {
	ID           string
	DraftID      string
	Reason       string
	Comment      string
	Alternatives string
	CreatedBy    string
	CreatedAt    time.Time
}

type ExportRecord struct {
	ID            string
	DraftID       string
	Format        string
	ObjectKey     string
	CitationCount int
	DocumentCount int
	CreatedBy     string
	CreatedAt     time.Time
}
