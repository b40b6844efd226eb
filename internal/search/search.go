package search

import (
	"context"
	"time"

	"scribe/api/internal/content"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Snippet       string `json:"snippet"`
	Status        string `json:"status"`
	CitationCount int    `json:"citationCount"`
}

type Query struct {
	Text   string
	Status string // empty = any status
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

type Indexer interface {
	IndexDraft(rec DraftRecord) error
	IndexDrafts(recs []DraftRecord) error
	DeleteDraft(id string) error
}

// DraftRecord is what gets indexed for a draft. Text has citation markers
// stripped so "[3]" never matches a query for "3".
type DraftRecord struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Text          string   `json:"text"`
	Sources       []string `json:"sources"`
	Status        string   `json:"status"`
	CitationCount int      `json:"citationCount"`
	UpdatedAt     int64    `json:"updatedAt"`
}

func NewDraftRecord(draft content.Draft) DraftRecord {
	seen := make(map[string]struct{}, len(draft.Citations))
	sources := make([]string, 0, len(draft.Citations))
	for _, c := range draft.Citations {
		if c.DocumentName == "" {
			continue
		}
		if _, ok := seen[c.DocumentName]; ok {
			continue
		}
		seen[c.DocumentName] = struct{}{}
		sources = append(sources, c.DocumentName)
	}
	updated := draft.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return DraftRecord{
		ID:            draft.ID,
		Title:         draft.Title,
		Text:          content.StripMarkers(draft.Content),
		Sources:       sources,
		Status:        string(draft.Status),
		CitationCount: len(draft.Citations),
		UpdatedAt:     updated.Unix(),
	}
}
