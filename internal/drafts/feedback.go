package drafts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scribe/api/internal/editor"
	"scribe/api/internal/store"
	"scribe/api/internal/util"
)

type feedbackStore interface {
	InsertFeedback(ctx context.Context, item store.Feedback) error
}

// Advisor answers draft feedback with canned alternatives keyed by the
// feedback reason and keeps a record of what was said. It stands in for a
// regeneration service; the editor only stores and shows what comes back.
type Advisor struct {
	store  feedbackStore
	author string
}

func NewAdvisor(feedbackStore feedbackStore, author string) *Advisor {
	return &Advisor{store: feedbackStore, author: author}
}

var alternativesByReason = map[string][]editor.Alternative{
	"inaccurate": {
		{Type: "regenerate", Description: "Regenerate the draft using only quoted excerpts", Action: "regenerate_strict"},
		{Type: "review", Description: "Highlight claims that have no citation", Action: "highlight_uncited"},
	},
	"missing_citations": {
		{Type: "search", Description: "Search the source set for supporting passages", Action: "search_sources"},
		{Type: "regenerate", Description: "Regenerate with a citation after every claim", Action: "regenerate_cited"},
	},
	"too_long": {
		{Type: "rewrite", Description: "Condense the draft to a summary", Action: "summarize"},
	},
	"too_short": {
		{Type: "rewrite", Description: "Expand each section with more source detail", Action: "expand"},
	},
	"tone": {
		{Type: "rewrite", Description: "Rewrite in a more formal register", Action: "formalize"},
		{Type: "rewrite", Description: "Rewrite in plain language", Action: "simplify"},
	},
}

var defaultAlternatives = []editor.Alternative{
	{Type: "regenerate", Description: "Regenerate the draft from the same sources", Action: "regenerate"},
}

func (a *Advisor) Alternatives(ctx context.Context, draftID string, feedback editor.Feedback) ([]editor.Alternative, error) {
	reason := strings.ToLower(strings.TrimSpace(feedback.Reason))
	if reason == "" {
		return nil, fmt.Errorf("%w: feedback reason is required", ErrInvalidDraft)
	}
	suggestions, ok := alternativesByReason[reason]
	if !ok {
		suggestions = defaultAlternatives
	}
	out := make([]editor.Alternative, len(suggestions))
	copy(out, suggestions)

	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode alternatives: %w", err)
	}
	if err := a.store.InsertFeedback(ctx, store.Feedback{
		ID:           util.NewID("fb"),
		DraftID:      draftID,
		Reason:       reason,
		Comment:      strings.TrimSpace(feedback.Comment),
		Alternatives: string(encoded),
		CreatedBy:    a.author,
	}); err != nil {
		return nil, err
	}
	return out, nil
}
