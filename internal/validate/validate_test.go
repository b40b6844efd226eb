package validate

import (
	"reflect"
	"strings"
	"testing"

	"scribe/api/internal/content"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		citations []content.Citation
		orphaned  []int
		unused    []int
	}{
		{
			name:      "orphaned and unused",
			text:      "[1] and [3] text",
			citations: []content.Citation{{Number: 1}, {Number: 2}},
			orphaned:  []int{3},
			unused:    []int{2},
		},
		{
			name:      "all consistent",
			text:      "[1] [2] [1]",
			citations: []content.Citation{{Number: 1}, {Number: 2}},
		},
		{
			name:     "no citations",
			text:     "[4] then [2] then [4]",
			orphaned: []int{4, 2},
		},
		{
			name:      "empty content",
			text:      "",
			citations: []content.Citation{{Number: 2}, {Number: 1}},
			unused:    []int{2, 1},
		},
		{
			name:      "malformed markers ignored",
			text:      "[x] [1",
			citations: []content.Citation{{Number: 1}},
			unused:    []int{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := Validate(tt.text, tt.citations)

			orphaned, hasOrphaned := Find(warnings, OrphanedCitation)
			if (tt.orphaned != nil) != hasOrphaned {
				t.Fatalf("orphaned warning present = %v, want %v", hasOrphaned, tt.orphaned != nil)
			}
			if hasOrphaned && !reflect.DeepEqual(orphaned.CitationNumbers, tt.orphaned) {
				t.Errorf("orphaned = %v, want %v", orphaned.CitationNumbers, tt.orphaned)
			}

			unused, hasUnused := Find(warnings, UnusedCitation)
			if (tt.unused != nil) != hasUnused {
				t.Fatalf("unused warning present = %v, want %v", hasUnused, tt.unused != nil)
			}
			if hasUnused && !reflect.DeepEqual(unused.CitationNumbers, tt.unused) {
				t.Errorf("unused = %v, want %v", unused.CitationNumbers, tt.unused)
			}
		})
	}
}

func TestValidateMessages(t *testing.T) {
	warnings := Validate("[3] [4]", []content.Citation{{Number: 1}})
	orphaned, _ := Find(warnings, OrphanedCitation)
	if !strings.HasPrefix(orphaned.Message, "2 citation markers reference missing sources") {
		t.Errorf("orphaned message = %q", orphaned.Message)
	}
	if !strings.Contains(orphaned.Message, "[3], [4]") {
		t.Errorf("orphaned message should list numbers: %q", orphaned.Message)
	}
	unused, _ := Find(warnings, UnusedCitation)
	if unused.Message != "1 source is never cited in the text: [1]" {
		t.Errorf("unused message = %q", unused.Message)
	}
}

func TestDismissals(t *testing.T) {
	citations := []content.Citation{{Number: 1}, {Number: 2}}
	d := NewDismissals()

	first := Validate("[1] [3]", citations)
	if !d.Dismiss(UnusedCitation, first) {
		t.Fatal("Dismiss() should succeed for an active warning")
	}
	if got := d.Visible(first); len(got) != 1 || got[0].Type != OrphanedCitation {
		t.Fatalf("Visible() = %+v", got)
	}

	// Same unused set after another edit stays hidden.
	second := Validate("[1] [3] more words", citations)
	d.Update(second)
	if _, ok := Find(d.Visible(second), UnusedCitation); ok {
		t.Fatal("unchanged warning should stay dismissed")
	}

	// The condition clears, then recurs: the warning must come back.
	third := Validate("[1] [2] [3]", citations)
	d.Update(third)
	fourth := Validate("[1] [3]", citations)
	d.Update(fourth)
	if _, ok := Find(d.Visible(fourth), UnusedCitation); !ok {
		t.Fatal("recurring warning should reappear")
	}
}

func TestDismissalClearedByDifferentSet(t *testing.T) {
	citations := []content.Citation{{Number: 1}, {Number: 2}, {Number: 3}}
	d := NewDismissals()
	d.Dismiss(UnusedCitation, Validate("[1] [2]", citations))

	next := Validate("[1]", citations)
	d.Update(next)
	w, ok := Find(d.Visible(next), UnusedCitation)
	if !ok || !reflect.DeepEqual(w.CitationNumbers, []int{2, 3}) {
		t.Fatalf("expected changed unused warning to show, got %+v (%v)", w, ok)
	}
}

func TestDismissalSurvivesReorderedText(t *testing.T) {
	citations := []content.Citation{{Number: 1}}
	d := NewDismissals()
	first := Validate("[1] [5] then [4]", citations)
	if !d.Dismiss(OrphanedCitation, first) {
		t.Fatal("Dismiss() should succeed for an active warning")
	}

	reordered := Validate("[4] first, [1] then [5]", citations)
	if w, _ := Find(reordered, OrphanedCitation); !reflect.DeepEqual(w.CitationNumbers, []int{4, 5}) {
		t.Fatalf("orphans should follow the new text order, got %v", w.CitationNumbers)
	}
	d.Update(reordered)
	if _, ok := Find(d.Visible(reordered), OrphanedCitation); ok {
		t.Fatal("same orphan set in a different order should stay dismissed")
	}
}

func TestDismissMissingType(t *testing.T) {
	d := NewDismissals()
	if d.Dismiss(OrphanedCitation, nil) {
		t.Fatal("Dismiss() without an active warning should be a no-op")
	}
}
