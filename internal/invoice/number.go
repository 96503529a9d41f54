package invoice

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/zombor/invoice-extractor/internal/textfix"
)

var invoiceNumberPatterns = []*regexp.Regexp{
	// "Invoice No. INV-1001", "Facture n° 2024-17", "Receipt #: 55-1234"
	regexp.MustCompile(`(?i)\b(?:invoice|inv|bill|receipt|facture|factura|recibo)\s*(?:number|numero|num|nbr|no|n[°ºo]|#)?\.?\s*[:#]?\s*([A-Z0-9][A-Z0-9/-]{2,29})`),
	// "No de facture: F-2024-001", "Numero de factura 7781"
	regexp.MustCompile(`(?i)\b(?:numero|num|no|n[°º])\.?\s*(?:de\s+)?(?:facture|factura)\s*[:#]?\s*([A-Z0-9][A-Z0-9/-]{2,29})`),
}

// FindInvoiceNumber returns the first invoice number introduced by an
// invoice keyword. Numbers must hold at least one digit.
func FindInvoiceNumber(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = textfix.StripDiacritics(line)
		for _, p := range invoiceNumberPatterns {
			for _, m := range p.FindAllStringSubmatch(line, -1) {
				if n := strings.Trim(m[1], "-/"); len(n) >= 3 && hasDigit(n) {
					return n, true
				}
			}
		}
	}
	return "", false
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
