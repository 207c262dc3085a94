package intent

import (
	"strings"
	"unicode"
)

// Choice is one member of a closed stage vocabulary
type Choice struct {
	Value   string   `json:"value" yaml:"value"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases"`
}

// Normalize lowercases text and collapses punctuation, dashes and underscores to single spaces
func Normalize(text string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '%' || r == '.' {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return strings.TrimSuffix(b.String(), ".")
}

// Match resolves text against a closed vocabulary. It accepts the value or an alias
// verbatim after normalization, or within one edit of either.
func Match(choices []Choice, text string) (string, bool) {
	if value, ok := MatchExact(choices, text); ok {
		return value, true
	}
	needle := Normalize(text)

	// Near-exact pass. Reject when two different choices are equally close.
	found := ""
	for _, c := range choices {
		for _, term := range c.terms() {
			if len(term) < 4 || !withinOneEdit(needle, term) {
				continue
			}
			if found != "" && found != c.Value {
				return "", false
			}
			found = c.Value
		}
	}
	return found, found != ""
}

// MatchExact is Match without the near-exact pass
func MatchExact(choices []Choice, text string) (string, bool) {
	needle := Normalize(text)
	if needle == "" {
		return "", false
	}
	for _, c := range choices {
		for _, term := range c.terms() {
			if needle == term {
				return c.Value, true
			}
		}
	}
	return "", false
}

func (c Choice) terms() []string {
	out := make([]string, 0, len(c.Aliases)+1)
	out = append(out, Normalize(c.Value))
	for _, a := range c.Aliases {
		out = append(out, Normalize(a))
	}
	return out
}

// withinOneEdit reports whether a and b differ by at most one insertion, deletion or substitution
func withinOneEdit(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(ra)-len(rb) > 1 {
		return false
	}

	i, j, edits := 0, 0, 0
	for i < len(ra) && j < len(rb) {
		if ra[i] == rb[j] {
			i++
			j++
			continue
		}
		edits++
		if edits > 1 {
			return false
		}
		if len(ra) == len(rb) {
			j++
		}
		i++
	}
	return edits+(len(ra)-i) <= 1
}
