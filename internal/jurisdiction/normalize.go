package jurisdiction

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a free-text name for comparison: diacritics are stripped,
// letters lowercased, and every run of non-alphanumeric characters collapses to one space.
// "  Nuevo León " and "NUEVO-LEON" both normalize to "nuevo leon".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		space = true
	}
	return b.String()
}

// normalizeCode folds an industry or state code: normalized, then upper-cased with underscores.
func normalizeCode(s string) string {
	return strings.ToUpper(strings.ReplaceAll(Normalize(s), " ", "_"))
}
