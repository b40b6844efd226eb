package validate

import (
	"slices"
)

// Dismissals tracks which warning types the user has hidden. A dismissal is
// tied to the exact set of numbers it was made against, so a later run that
// produces a different set for the type shows the warning again. Nothing here
// is persisted.
type Dismissals struct {
	hidden map[WarningType][]int
}

func NewDismissals() *Dismissals {
	return &Dismissals{hidden: make(map[WarningType][]int)}
}

// Dismiss hides the current warning of type t. It is a no-op when no such
// warning is active.
func (d *Dismissals) Dismiss(t WarningType, current []Warning) bool {
	w, ok := Find(current, t)
	if !ok {
		return false
	}
	d.hidden[t] = sortedCopy(w.CitationNumbers)
	return true
}

// Update forgets dismissals whose warning changed or disappeared in a fresh
// validation result.
func (d *Dismissals) Update(latest []Warning) {
	for t, numbers := range d.hidden {
		w, ok := Find(latest, t)
		if !ok || !slices.Equal(sortedCopy(w.CitationNumbers), numbers) {
			delete(d.hidden, t)
		}
	}
}

// Visible filters out dismissed warnings.
func (d *Dismissals) Visible(warnings []Warning) []Warning {
	out := make([]Warning, 0, len(warnings))
	for _, w := range warnings {
		if numbers, ok := d.hidden[w.Type]; ok && slices.Equal(numbers, sortedCopy(w.CitationNumbers)) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Order in a warning follows the text, so dismissals compare number sets.
func sortedCopy(numbers []int) []int {
	out := slices.Clone(numbers)
	slices.Sort(out)
	return out
}

func (d *Dismissals) Reset() {
	clear(d.hidden)
}
