// Package textfix repairs characters that OCR engines commonly confuse
// with digits.
package textfix

import (
	"strings"
	"unicode"
)

// Scope selects how much of the input is eligible for correction
type Scope int

const (
	// ScopeWhole corrects only the numeric-shaped tokens of a string and
	// leaves words alone, so keywords stay recognizable.
	ScopeWhole Scope = iota
	// ScopeNumeric treats the whole input as a numeric fragment and
	// substitutes every confusable character.
	ScopeNumeric
)

// substitutions maps OCR look-alikes to the digit they usually stand for
var substitutions = map[rune]rune{
	'O': '0', 'o': '0', 'Q': '0', 'D': '0',
	'l': '1', 'I': '1', 'i': '1', '|': '1', '!': '1',
	'Z': '2', 'z': '2',
	'S': '5', 's': '5',
	'B': '8',
	'G': '6', 'b': '6',
	'T': '7',
	'g': '9', 'q': '9',
	'A': '4',
}

// Correct applies the substitution table to s according to scope
func Correct(s string, scope Scope) string {
	if scope == ScopeNumeric {
		return substitute(s)
	}

	var b strings.Builder
	b.Grow(len(s))
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				b.WriteString(correctToken(s[start:i]))
				start = -1
			}
			b.WriteRune(r)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		b.WriteString(correctToken(s[start:]))
	}
	return b.String()
}

// CorrectNumeric corrects a fragment already known to be a number or date
func CorrectNumeric(s string) string {
	return Correct(s, ScopeNumeric)
}

// CorrectLine corrects the numeric-shaped tokens of a line
func CorrectLine(s string) string {
	return Correct(s, ScopeWhole)
}

func substitute(s string) string {
	return strings.Map(func(r rune) rune {
		if d, ok := substitutions[r]; ok {
			return d
		}
		return r
	}, s)
}

func isSeparator(r rune) bool {
	switch r {
	case '.', ',', '/', '-', ':', '\'':
		return true
	}
	return false
}

// isDecoration reports runes that may wrap a number without making it a word
func isDecoration(r rune) bool {
	switch r {
	case '(', ')', '+', '%', '#':
		return true
	}
	return unicode.Is(unicode.Sc, r)
}

// correctToken rewrites a whitespace-free token when it looks numeric.
// The token is split into segments on separators; a segment is corrected
// when it holds a digit and nothing but digits, look-alikes and
// decorations. Short look-alike-only segments are corrected as well when
// a sibling segment qualified.
func correctToken(tok string) string {
	segments := splitSegments(tok)

	anchored := false
	fix := make([]bool, len(segments))
	for i, seg := range segments {
		if seg.sep {
			continue
		}
		hasDigit, clean := classify(seg.text)
		if hasDigit && clean {
			fix[i] = true
			anchored = true
		}
	}
	if !anchored {
		return tok
	}

	var b strings.Builder
	b.Grow(len(tok))
	for i, seg := range segments {
		switch {
		case fix[i]:
			b.WriteString(substitute(seg.text))
		case !seg.sep && isShortLookAlike(seg.text):
			b.WriteString(substitute(seg.text))
		case seg.sep && seg.text == ";":
			b.WriteString(",")
		default:
			b.WriteString(seg.text)
		}
	}
	return b.String()
}

type segment struct {
	text string
	sep  bool
}

func splitSegments(tok string) []segment {
	var out []segment
	start := 0
	for i, r := range tok {
		if isSeparator(r) || r == ';' {
			if i > start {
				out = append(out, segment{text: tok[start:i]})
			}
			out = append(out, segment{text: string(r), sep: true})
			start = i + len(string(r))
		}
	}
	if start < len(tok) {
		out = append(out, segment{text: tok[start:]})
	}
	return out
}

// classify reports whether seg has a digit and whether every rune is a
// digit, a look-alike or a decoration
func classify(seg string) (hasDigit, clean bool) {
	clean = true
	for _, r := range seg {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case isDecoration(r):
		default:
			if _, ok := substitutions[r]; !ok {
				clean = false
			}
		}
	}
	return hasDigit, clean
}

func isShortLookAlike(seg string) bool {
	n := 0
	for _, r := range seg {
		if _, ok := substitutions[r]; !ok {
			return false
		}
		n++
	}
	return n > 0 && n <= 2
}
