// Package validate checks draft content against its citation list and reports
// orphaned and unused citations.
package validate

import (
	"fmt"
	"strings"

	"scribe/api/internal/content"
)

type WarningType string

const (
	OrphanedCitation WarningType = "orphaned_citation"
	UnusedCitation   WarningType = "unused_citation"
)

// Warning is a non-fatal hint; at most one per type is active at a time.
type Warning struct {
	Type            WarningType `json:"type"`
	CitationNumbers []int       `json:"citationNumbers"`
	Message         string      `json:"message"`
}

// Validate is pure. Orphaned numbers are listed in first-occurrence order in
// the content, unused numbers in citation list order.
func Validate(text string, citations []content.Citation) []Warning {
	used := content.CitationsUsed(text)
	usedSet := make(map[int]struct{}, len(used))
	for _, n := range used {
		usedSet[n] = struct{}{}
	}
	numbers := content.Numbers(citations)

	warnings := make([]Warning, 0, 2)

	orphaned := make([]int, 0)
	for _, n := range used {
		if _, ok := numbers[n]; !ok {
			orphaned = append(orphaned, n)
		}
	}
	if len(orphaned) > 0 {
		warnings = append(warnings, Warning{
			Type:            OrphanedCitation,
			CitationNumbers: orphaned,
			Message: fmt.Sprintf("%d citation %s reference missing sources: %s",
				len(orphaned), plural(len(orphaned), "marker", "markers"), formatNumbers(orphaned)),
		})
	}

	unused := make([]int, 0)
	seen := make(map[int]struct{}, len(citations))
	for _, c := range citations {
		if _, dup := seen[c.Number]; dup {
			continue
		}
		seen[c.Number] = struct{}{}
		if _, ok := usedSet[c.Number]; !ok {
			unused = append(unused, c.Number)
		}
	}
	if len(unused) > 0 {
		warnings = append(warnings, Warning{
			Type:            UnusedCitation,
			CitationNumbers: unused,
			Message: fmt.Sprintf("%d %s never cited in the text: %s",
				len(unused), plural(len(unused), "source is", "sources are"), formatNumbers(unused)),
		})
	}
	return warnings
}

// Find returns the warning of the given type, if present.
func Find(warnings []Warning, t WarningType) (Warning, bool) {
	for _, w := range warnings {
		if w.Type == t {
			return w, true
		}
	}
	return Warning{}, false
}

func formatNumbers(numbers []int) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = content.Marker(n)
	}
	return strings.Join(parts, ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
