package scraper

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases, strips diacritics, and collapses everything
// that is not a letter, digit, or space. Titles from the source site
// and from the metadata providers disagree on accents and punctuation,
// so both sides are normalized before comparison.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark from decomposition, drop it
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
