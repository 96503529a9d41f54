package amount

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zombor/invoice-extractor/internal/textfix"
)

// Total candidate priorities
const (
	PriorityPayable  = 90
	PriorityTotal    = 70
	PriorityAmount   = 50
	PriorityCurrency = 10
)

// Candidate is an amount found on a line of invoice text
type Candidate struct {
	Value      decimal.Decimal
	Raw        string
	SourceLine string
	Line       int
	Priority   int
}

type totalKeyword struct {
	phrase   string
	priority int
}

// totalKeywords are matched against folded lines, longest phrases first
var totalKeywords = []totalKeyword{
	{"total a payer", PriorityPayable},
	{"montant a payer", PriorityPayable},
	{"net a payer", PriorityPayable},
	{"solde a payer", PriorityPayable},
	{"total a pagar", PriorityPayable},
	{"importe total", PriorityPayable},
	{"amount payable", PriorityPayable},
	{"amount due", PriorityPayable},
	{"balance due", PriorityPayable},
	{"total due", PriorityPayable},
	{"grand total", PriorityPayable},
	{"montant total", PriorityPayable},
	{"total ttc", PriorityPayable},
	{"total", PriorityTotal},
	{"montant", PriorityAmount},
	{"amount", PriorityAmount},
	{"balance", PriorityAmount},
	{"solde", PriorityAmount},
	{"importe", PriorityAmount},
}

// excludedPhrases mark lines that carry partial sums rather than the total
var excludedPhrases = []string{
	"subtotal", "sub-total", "sub total", "sous-total", "sous total",
	"total tax", "total taxes", "tax total", "total tps", "total tvq", "total tvh",
	"total ht", "total hors taxe", "montant ht",
	"total items", "total articles", "total qty", "total quantity",
}

var (
	numberPattern   = regexp.MustCompile(`\d{1,3}(?:[ \x{00a0}\x{202f}]\d{3})+(?:[.,]\d{2})?|\d[\d.,]*\d|\d`)
	currencyPattern = regexp.MustCompile(`(?i)[$€£]|\b(?:usd|cad|eur)\b`)
)

// FindTotals scans text for amounts on total-bearing lines. Lines naming
// subtotals or taxes are skipped. A keyword line without an amount takes
// the amount on the following line. Lines with a currency marker but no
// keyword yield low-priority candidates.
func FindTotals(text string) []Candidate {
	lines := strings.Split(text, "\n")
	var out []Candidate
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		folded := foldLine(line)
		if excluded(folded) {
			continue
		}

		kw, idx := findKeyword(folded)
		if idx >= 0 {
			rest := folded[idx+len(kw.phrase):]
			if c, ok := lastAmount(rest); ok {
				c.SourceLine, c.Line, c.Priority = line, i, kw.priority
				out = append(out, c)
				continue
			}
			if i+1 < len(lines) {
				next := foldLine(lines[i+1])
				if c, ok := lastAmount(next); ok && isAmountLine(next) {
					c.SourceLine, c.Line, c.Priority = lines[i+1], i+1, kw.priority-5
					out = append(out, c)
					i++
				}
			}
			continue
		}

		if currencyPattern.MatchString(line) {
			if c, ok := lastAmount(folded); ok {
				c.SourceLine, c.Line, c.Priority = line, i, PriorityCurrency
				out = append(out, c)
			}
		}
	}
	return out
}

func excluded(folded string) bool {
	for _, p := range excludedPhrases {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

func findKeyword(folded string) (totalKeyword, int) {
	for _, kw := range totalKeywords {
		if idx := wordIndex(folded, kw.phrase); idx >= 0 {
			return kw, idx
		}
	}
	return totalKeyword{}, -1
}

// wordIndex finds phrase in s at word boundaries
func wordIndex(s, phrase string) int {
	offset := 0
	for {
		idx := strings.Index(s[offset:], phrase)
		if idx < 0 {
			return -1
		}
		idx += offset
		end := idx + len(phrase)
		if (idx == 0 || !isWordByte(s[idx-1])) && (end == len(s) || !isWordByte(s[end])) {
			return idx
		}
		offset = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 0x80
}

// foldLine corrects numeric tokens before folding, since lowercasing would
// turn look-alikes such as B into other digits
func foldLine(line string) string {
	return textfix.Fold(textfix.CorrectLine(line))
}

// lastAmount returns the right-most parsable amount in s
func lastAmount(s string) (Candidate, bool) {
	matches := numberPattern.FindAllString(s, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		v, err := Normalize(matches[i])
		if err != nil {
			continue
		}
		return Candidate{Value: v, Raw: matches[i]}, true
	}
	return Candidate{}, false
}

// isAmountLine reports a line consisting of little more than an amount
func isAmountLine(folded string) bool {
	stripped := numberPattern.ReplaceAllString(folded, "")
	stripped = currencyPattern.ReplaceAllString(stripped, "")
	return len(strings.TrimSpace(stripped)) <= 3
}
