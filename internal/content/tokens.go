package content

import (
	"strconv"
	"strings"
	"unicode"
)

// maxMarkerDigits keeps marker numbers well inside int range.
const maxMarkerDigits = 9

// MaxMarkerNumber is the largest number Tokens recognizes as a marker.
const MaxMarkerNumber = 999_999_999

// Token is one well-formed [n] marker; Start and End are byte offsets with
// End exclusive.
type Token struct {
	Start  int
	End    int
	Number int
}

// Tokens scans text for well-formed markers in order of appearance. A marker
// is '[' followed by 1-9 ASCII digits without a leading zero and a closing
// ']'. Anything else ("[x]", "[12", "[]", "[0]", "[07]") stays plain text.
func Tokens(text string) []Token {
	var tokens []Token
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		number, end, ok := parseMarker(text, i)
		if !ok {
			continue
		}
		tokens = append(tokens, Token{Start: i, End: end, Number: number})
		i = end - 1
	}
	return tokens
}

// parseMarker reads a marker starting at text[start] == '['.
func parseMarker(text string, start int) (number int, end int, ok bool) {
	j := start + 1
	for j < len(text) && text[j] >= '0' && text[j] <= '9' {
		if j-start > maxMarkerDigits {
			return 0, 0, false
		}
		number = number*10 + int(text[j]-'0')
		j++
	}
	digits := j - start - 1
	if digits == 0 || j >= len(text) || text[j] != ']' {
		return 0, 0, false
	}
	if text[start+1] == '0' {
		return 0, 0, false
	}
	return number, j + 1, true
}

// Marker formats the canonical token for a citation number.
func Marker(number int) string {
	return "[" + strconv.Itoa(number) + "]"
}

// CitationsUsed returns the distinct marker numbers in first-occurrence order.
func CitationsUsed(text string) []int {
	tokens := Tokens(text)
	seen := make(map[int]struct{}, len(tokens))
	used := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok.Number]; ok {
			continue
		}
		seen[tok.Number] = struct{}{}
		used = append(used, tok.Number)
	}
	return used
}

// StripMarkers removes every marker, leaving surrounding text untouched.
func StripMarkers(text string) string {
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, tok := range tokens {
		b.WriteString(text[last:tok.Start])
		last = tok.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// WordCount counts whitespace separated words, ignoring markers.
func WordCount(text string) int {
	return len(strings.FieldsFunc(StripMarkers(text), unicode.IsSpace))
}
