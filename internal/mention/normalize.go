package mention

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDiacritics decomposes, strips combining marks, and recomposes, so
// "Müller" and "Muller" compare equal.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Clean normalizes text for candidate matching: diacritics folded, lowered,
// and whitespace (including NBSP and friends) collapsed away. Matching is
// substring containment over this form.
func Clean(s string) string {
	folded, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
