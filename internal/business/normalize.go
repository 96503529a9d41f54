package business

import (
	"strings"
	"unicode"

	"github.com/zombor/invoice-extractor/internal/textfix"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKeyword folds s for comparison: compatibility normalization,
// diacritics removed, lowercase, punctuation other than & ' and - turned
// into spaces, whitespace collapsed and trimmed
func NormalizeKeyword(s string) string {
	return normalize(s, true)
}

// normalizeCased is NormalizeKeyword without lowercasing, for
// case-sensitive keywords
func normalizeCased(s string) string {
	return normalize(s, false)
}

func normalize(s string, fold bool) string {
	s = textfix.StripDiacritics(norm.NFKC.String(s))
	if fold {
		s = strings.ToLower(s)
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '&' || r == '\'' || r == '-':
			return r
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsControl(r):
			return ' '
		}
		return r
	}, s)
	return strings.Trim(strings.Join(strings.Fields(s), " "), "-'")
}

// Unspaced removes the spaces of a normalized string, so OCR splits such
// as "RO NA" still meet "rona"
func Unspaced(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
