package editor

import (
	"context"

	"scribe/api/internal/autosave"
	"scribe/api/internal/content"
)

// Loader reads a draft when a session opens.
type Loader interface {
	Load(ctx context.Context, draftID string) (content.Draft, error)
}

// WorkingCopyStash keeps unsaved edits somewhere cheap so they survive a
// failed save or a restart.
type WorkingCopyStash interface {
	StashWorkingCopy(ctx context.Context, draftID string, payload autosave.Payload) error
	LookupWorkingCopy(ctx context.Context, draftID string) (autosave.Payload, bool, error)
	ClearWorkingCopy(ctx context.Context, draftID string) error
}

type Feedback struct {
	Reason  string `json:"reason"`
	Comment string `json:"comment"`
}

// Alternative is a suggestion from the feedback service. The session only
// stores it; acting on a selection is up to the caller.
type Alternative struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

type FeedbackProvider interface {
	Alternatives(ctx context.Context, draftID string, feedback Feedback) ([]Alternative, error)
}

type ExportRequest struct {
	DraftID       string
	Title         string
	Format        string
	Content       string
	Citations     []content.Citation
	CitationCount int
	DocumentCount int
}

type ExportResult struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
	URL         string `json:"url,omitempty"`
}

type Exporter interface {
	Export(ctx context.Context, req ExportRequest) (ExportResult, error)
}
