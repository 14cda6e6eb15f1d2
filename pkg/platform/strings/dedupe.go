// Package strings provides string normalisation helpers shared by the
// sanitizer and the consent metadata code.
package strings

import (
	"strings"
	"unicode"
)

// DedupeFold normalises each element with Clean and drops case-insensitive
// duplicates, keeping the first spelling seen.
//
//	DedupeFold([]string{"Peanut", " peanut ", "Tree\tNut"})
//	// []string{"Peanut", "Tree Nut"}
func DedupeFold(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		n := Clean(v)
		if n == "" {
			continue
		}
		k := strings.ToLower(n)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, n)
	}
	return result
}

// Clean strips control characters and collapses runs of whitespace to a
// single space.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
		case unicode.IsControl(r):
		default:
			if space {
				b.WriteByte(' ')
				space = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
