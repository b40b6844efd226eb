// Package renumber removes citations and renumbers the survivors so both the
// content markers and the citation list stay consistent.
package renumber

import (
	"maps"
	"sort"

	"scribe/api/internal/content"
	"scribe/api/internal/validate"
)

type Result struct {
	Content   string
	Citations []content.Citation
	// Mapping is old number -> new number for every surviving citation.
	Mapping map[int]int
	// Orphans lists orphaned markers moved out of the renumbered range.
	Orphans map[int]int
}

func (r Result) Snapshot() content.Snapshot {
	return content.NewSnapshot(r.Content, r.Citations)
}

// Citations drops the records and markers listed in remove, then renumbers
// what is left to 1..n by ascending old number. Numbers in remove that have
// no record are ignored, but their markers are still stripped. Markers with
// no record and not in remove stay orphaned: they keep their number unless it
// now belongs to a survivor, in which case they move above the new range.
func Citations(text string, citations []content.Citation, remove []int) Result {
	removeSet := make(map[int]struct{}, len(remove))
	for _, n := range remove {
		removeSet[n] = struct{}{}
	}

	survivors := make([]content.Citation, 0, len(citations))
	for _, c := range content.CloneCitations(citations) {
		if _, drop := removeSet[c.Number]; drop {
			continue
		}
		survivors = append(survivors, c)
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Number < survivors[j].Number
	})

	// The full old->new mapping is fixed before any text is rewritten so an
	// old number is never confused with another marker's new number.
	mapping := make(map[int]int, len(survivors))
	for i := range survivors {
		mapping[survivors[i].Number] = i + 1
		survivors[i].Number = i + 1
	}

	orphans := relocateOrphans(text, removeSet, mapping, len(survivors))
	rewrites := maps.Clone(mapping)
	maps.Copy(rewrites, orphans)

	return Result{
		Content:   rewrite(text, removeSet, rewrites),
		Citations: survivors,
		Mapping:   mapping,
		Orphans:   orphans,
	}
}

// relocateOrphans assigns numbers above n, in ascending old order, to orphaned
// markers whose number falls inside 1..n. Orphans already above n keep theirs.
func relocateOrphans(text string, remove map[int]struct{}, mapping map[int]int, n int) map[int]int {
	taken := make(map[int]struct{})
	var colliding []int
	for _, tok := range content.Tokens(text) {
		if _, drop := remove[tok.Number]; drop {
			continue
		}
		if _, ok := mapping[tok.Number]; ok {
			continue
		}
		if _, seen := taken[tok.Number]; seen {
			continue
		}
		taken[tok.Number] = struct{}{}
		if tok.Number <= n {
			colliding = append(colliding, tok.Number)
		}
	}
	if len(colliding) == 0 {
		return nil
	}
	sort.Ints(colliding)
	moved := make(map[int]int, len(colliding))
	next := n
	for _, old := range colliding {
		for {
			next++
			if _, used := taken[next]; !used {
				break
			}
		}
		moved[old] = next
	}
	return moved
}

// Compact renumbers to a contiguous sequence without removing anything.
func Compact(text string, citations []content.Citation) Result {
	return Citations(text, citations, nil)
}

// FixUnused removes every citation the validator reports as unused.
func FixUnused(text string, citations []content.Citation) Result {
	var unused []int
	if w, ok := validate.Find(validate.Validate(text, citations), validate.UnusedCitation); ok {
		unused = w.CitationNumbers
	}
	return Citations(text, citations, unused)
}

// rewrite is a single positional pass over the original text. Removing a
// marker also drops one adjacent space so "a [2] b" becomes "a b" rather than
// "a  b"; other whitespace is left alone.
func rewrite(text string, remove map[int]struct{}, mapping map[int]int) string {
	tokens := content.Tokens(text)
	if len(tokens) == 0 {
		return text
	}
	out := make([]byte, 0, len(text))
	last := 0
	for _, tok := range tokens {
		out = append(out, text[last:tok.Start]...)
		last = tok.End
		if _, drop := remove[tok.Number]; drop {
			prevBoundary := len(out) == 0 || out[len(out)-1] == ' ' || out[len(out)-1] == '\n'
			nextSpace := tok.End < len(text) && text[tok.End] == ' '
			nextBoundary := tok.End == len(text) || text[tok.End] == '\n'
			switch {
			case prevBoundary && nextSpace:
				last++
			case nextBoundary && len(out) > 0 && out[len(out)-1] == ' ':
				out = out[:len(out)-1]
			}
			continue
		}
		if next, ok := mapping[tok.Number]; ok {
			out = append(out, content.Marker(next)...)
			continue
		}
		out = append(out, text[tok.Start:tok.End]...)
	}
	out = append(out, text[last:]...)
	return string(out)
}
