package renumber

import (
	"reflect"
	"testing"

	"scribe/api/internal/content"
	"scribe/api/internal/validate"
)

func cites(numbers ...int) []content.Citation {
	out := make([]content.Citation, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, content.Citation{Number: n, DocumentID: "doc", DocumentName: "name-" + content.Marker(n)})
	}
	return out
}

func numbers(citations []content.Citation) []int {
	out := make([]int, 0, len(citations))
	for _, c := range citations {
		out = append(out, c.Number)
	}
	return out
}

func TestCitationsRemovesAndRenumbers(t *testing.T) {
	original := cites(1, 2, 3)
	result := Citations("[1] [2] [3]", original, []int{2})

	if result.Content != "[1] [2]" {
		t.Fatalf("content = %q, want %q", result.Content, "[1] [2]")
	}
	if !reflect.DeepEqual(numbers(result.Citations), []int{1, 2}) {
		t.Fatalf("numbers = %v", numbers(result.Citations))
	}
	if result.Citations[1].DocumentName != "name-[3]" {
		t.Fatalf("new [2] should be the record that was [3], got %+v", result.Citations[1])
	}
	if !reflect.DeepEqual(result.Mapping, map[int]int{1: 1, 3: 2}) {
		t.Fatalf("mapping = %v", result.Mapping)
	}
	if original[2].Number != 3 {
		t.Fatal("input citations must not be mutated")
	}
}

func TestCitationsNoCollisionBetweenOldAndNew(t *testing.T) {
	// Old 3 becomes 2 while old 2 is removed and old 4 becomes 3: a naive
	// replace keyed by old number would turn every [3] into [2] and then
	// into the wrong marker.
	text := "a[3] b[4] c[2] d[3][4]"
	result := Citations(text, cites(1, 2, 3, 4), []int{2})

	if result.Content != "a[2] b[3] c d[2][3]" {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestCitationsPreservesRelativeOrder(t *testing.T) {
	unordered := []content.Citation{
		{Number: 7, DocumentID: "g"},
		{Number: 2, DocumentID: "b"},
		{Number: 5, DocumentID: "e"},
	}
	result := Citations("[7] [2] [5]", unordered, nil)
	if result.Content != "[3] [1] [2]" {
		t.Fatalf("content = %q", result.Content)
	}
	got := []string{result.Citations[0].DocumentID, result.Citations[1].DocumentID, result.Citations[2].DocumentID}
	if !reflect.DeepEqual(got, []string{"b", "e", "g"}) {
		t.Fatalf("order = %v", got)
	}
}

func TestCitationsOutOfRangeIsNoOp(t *testing.T) {
	result := Citations("[1] [2]", cites(1, 2), []int{9})
	if result.Content != "[1] [2]" || !reflect.DeepEqual(numbers(result.Citations), []int{1, 2}) {
		t.Fatalf("unexpected result %+v", result)
	}

	mixed := Citations("[1] [2] [3]", cites(1, 2, 3), []int{9, 1})
	if mixed.Content != "[1] [2]" {
		t.Fatalf("content = %q", mixed.Content)
	}
}

func TestCitationsKeepsOrphans(t *testing.T) {
	result := Citations("[1] [8] [3]", cites(1, 3), nil)
	if result.Content != "[1] [8] [2]" {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestCitationsMovesOrphanOutOfNewRange(t *testing.T) {
	if w, ok := validate.Find(validate.Validate("[1] [3]", cites(3)), validate.OrphanedCitation); !ok || w.CitationNumbers[0] != 1 {
		t.Fatalf("expected [1] to start orphaned, got %+v", w)
	}

	result := Citations("[1] [3]", cites(3), nil)
	if result.Content != "[2] [1]" {
		t.Fatalf("content = %q, want %q", result.Content, "[2] [1]")
	}
	if !reflect.DeepEqual(result.Mapping, map[int]int{3: 1}) {
		t.Fatalf("mapping = %v", result.Mapping)
	}
	if !reflect.DeepEqual(result.Orphans, map[int]int{1: 2}) {
		t.Fatalf("orphans = %v", result.Orphans)
	}
	w, ok := validate.Find(validate.Validate(result.Content, result.Citations), validate.OrphanedCitation)
	if !ok || !reflect.DeepEqual(w.CitationNumbers, []int{2}) {
		t.Fatalf("orphan must stay orphaned, got %+v", w)
	}
}

func TestCitationsRelocatedOrphansSkipTakenNumbers(t *testing.T) {
	// Survivors become [1] and [2]; orphan [2] collides and orphan [3] is
	// already above the range, so [2] moves past it to [4].
	result := Citations("[5] [2] [9] [3] [2]", cites(5, 9), nil)
	if result.Content != "[1] [4] [2] [3] [4]" {
		t.Fatalf("content = %q", result.Content)
	}
	if !reflect.DeepEqual(result.Orphans, map[int]int{2: 4}) {
		t.Fatalf("orphans = %v", result.Orphans)
	}
}

func TestCitationsWhitespace(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "middle", input: "a [2] b", expected: "a b"},
		{name: "start", input: "[2] b", expected: "b"},
		{name: "end", input: "a [2]", expected: "a"},
		{name: "end of line", input: "a [2]\nb", expected: "a\nb"},
		{name: "attached", input: "claim[2].", expected: "claim."},
		{name: "repeated", input: "x [2] [2] y", expected: "x y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Citations(tt.input, cites(1, 2), []int{2})
			if result.Content != tt.expected {
				t.Errorf("content = %q, want %q", result.Content, tt.expected)
			}
		})
	}
}

func TestFixUnused(t *testing.T) {
	result := FixUnused("[1] and [3]", cites(1, 2, 3))
	if result.Content != "[1] and [2]" {
		t.Fatalf("content = %q", result.Content)
	}
	if !reflect.DeepEqual(numbers(result.Citations), []int{1, 2}) {
		t.Fatalf("numbers = %v", numbers(result.Citations))
	}
}

func TestCompact(t *testing.T) {
	result := Compact("[2] [4]", cites(2, 4))
	if result.Content != "[1] [2]" {
		t.Fatalf("content = %q", result.Content)
	}
}
