package moderation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// leetDigits maps each decimal digit to the letter it usually stands in for.
var leetDigits = [10]rune{'o', 'i', 'z', 'e', 'a', 's', 'g', 't', 'b', 'g'}

// Normalize folds text into the form banned terms are matched against:
// lower-cased, diacritics stripped, digits mapped to letters, and everything
// outside a-z removed.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn))),
		strings.ToLower(text),
	)
	if err != nil {
		folded = strings.ToLower(text)
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(leetDigits[r-'0'])
		}
	}
	return b.String()
}
