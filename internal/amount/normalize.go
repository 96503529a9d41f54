// Package amount parses monetary amounts from OCR text and picks the
// invoice total among candidate lines.
package amount

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/zombor/invoice-extractor/internal/textfix"
)

// ErrUnparsableAmount is returned when no number can be recovered from a raw amount
var ErrUnparsableAmount = errors.New("unparsable amount")

var currencyCodes = regexp.MustCompile(`(?i)\b(usd|cad|eur|gbp|chf|aud|mxn|us|ca)\b`)

// Normalize converts a raw amount string into a canonical decimal.
//
// Currency symbols, currency codes and whitespace (including non-breaking
// spaces) are stripped first. OCR look-alikes are then corrected and the
// decimal separator is chosen:
//   - with both comma and dot present, the one appearing last is the
//     decimal separator unless one kind repeats, in which case the
//     repeated kind groups thousands
//   - a lone separator of either kind is a decimal separator
//   - a repeated separator groups thousands, unless the last group has
//     two digits while the inner groups have three ("1,076,43")
//
// Normalizing a canonical decimal string returns the same value.
func Normalize(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty input", ErrUnparsableAmount)
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = currencyCodes.ReplaceAllString(s, "")
	s = dropWords(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) || r == '\'' || r == '’' {
			return -1
		}
		return r
	}, s)

	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	} else if strings.HasSuffix(s, "-") {
		negative = !negative
		s = s[:len(s)-1]
	}

	s = textfix.CorrectNumeric(s)

	var cleaned strings.Builder
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
			cleaned.WriteRune(r)
		case r == ',' || r == '.':
			cleaned.WriteRune(r)
		}
	}
	if digits == 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: no digits in %q", ErrUnparsableAmount, raw)
	}

	canonical := resolveSeparators(cleaned.String())
	if negative {
		canonical = "-" + canonical
	}

	d, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrUnparsableAmount, raw, err)
	}
	return d, nil
}

var letterRun = regexp.MustCompile(`\pL+`)

// dropWords removes letter runs that cannot be misread digits: words not
// touching a digit, or holding letters outside the look-alike table
func dropWords(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range letterRun.FindAllStringIndex(s, -1) {
		word := s[loc[0]:loc[1]]
		if touchesDigit(s, loc[0], loc[1]) && strings.IndexFunc(textfix.CorrectNumeric(word), unicode.IsLetter) < 0 {
			continue
		}
		b.WriteString(s[last:loc[0]])
		b.WriteByte(' ')
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func touchesDigit(s string, start, end int) bool {
	before, _ := utf8.DecodeLastRuneInString(s[:start])
	after, _ := utf8.DecodeRuneInString(s[end:])
	return unicode.IsDigit(before) || unicode.IsDigit(after)
}

// resolveSeparators rewrites s, made of digits commas and dots, into a
// string with at most one dot as decimal separator
func resolveSeparators(s string) string {
	s = strings.Trim(s, ".,")
	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")

	switch {
	case commas == 0 && dots == 0:
		return s
	case commas > 0 && dots > 0:
		decimalSep := ","
		switch {
		case commas > dots:
			decimalSep = "."
		case dots > commas:
			decimalSep = ","
		case strings.LastIndex(s, ".") > strings.LastIndex(s, ","):
			decimalSep = "."
		}
		return withDecimal(s, decimalSep)
	case commas > 0:
		return singleKind(s, ",", commas)
	default:
		return singleKind(s, ".", dots)
	}
}

func singleKind(s, sep string, count int) string {
	if count == 1 {
		return strings.Replace(s, sep, ".", 1)
	}
	groups := strings.Split(s, sep)
	last := groups[len(groups)-1]
	if len(last) == 2 {
		inner := true
		for _, g := range groups[1 : len(groups)-1] {
			if len(g) != 3 {
				inner = false
				break
			}
		}
		if inner {
			return strings.Join(groups[:len(groups)-1], "") + "." + last
		}
	}
	return strings.Join(groups, "")
}

// withDecimal keeps only the last occurrence of decimalSep as the decimal
// point and drops every other separator
func withDecimal(s, decimalSep string) string {
	idx := strings.LastIndex(s, decimalSep)
	intPart := stripSeparators(s[:idx])
	fracPart := stripSeparators(s[idx+1:])
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func stripSeparators(s string) string {
	return strings.NewReplacer(",", "", ".", "").Replace(s)
}

// Canonical formats d with two decimal places
func Canonical(d decimal.Decimal) string {
	return d.StringFixed(2)
}
