package textfix

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripDiacritics removes combining marks after canonical decomposition,
// turning "à payer" into "a payer"
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold lowercases s and strips its diacritics. Compatibility forms such as
// full-width letters and ligatures are unified first.
func Fold(s string) string {
	return strings.ToLower(StripDiacritics(norm.NFKC.String(s)))
}
