// Package invoice turns invoice text into structured fields with
// per-field confidence, and serves the extraction over HTTP.
package invoice

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zombor/invoice-extractor/internal/amount"
	"github.com/zombor/invoice-extractor/internal/business"
)

// Field names an extracted invoice field
type Field string

const (
	FieldCompany       Field = "company"
	FieldTotal         Field = "total"
	FieldDate          Field = "date"
	FieldInvoiceNumber Field = "invoice_number"
)

// AllFields lists every field in output order
var AllFields = []Field{FieldCompany, FieldTotal, FieldDate, FieldInvoiceNumber}

const dateLayout = "2006-01-02"

// ExtractedInvoice is the result of one extraction. Absent fields are nil.
type ExtractedInvoice struct {
	Company           *string
	Total             *decimal.Decimal
	Date              *time.Time
	InvoiceNumber     *string
	FieldConfidence   map[Field]float64
	OverallConfidence float64
	IsValid           bool

	// Match is how the company was recognized
	Match *business.MatchResult
	// Method is the acquisition strategy that produced the text
	Method string
	// Source names the document, when there was one
	Source string
}

// FieldMap returns the present fields as strings: totals with two
// decimals, dates as YYYY-MM-DD
func (e ExtractedInvoice) FieldMap() map[string]string {
	m := make(map[string]string, len(AllFields))
	if e.Company != nil {
		m[string(FieldCompany)] = *e.Company
	}
	if e.Total != nil {
		m[string(FieldTotal)] = amount.Canonical(*e.Total)
	}
	if e.Date != nil {
		m[string(FieldDate)] = e.Date.Format(dateLayout)
	}
	if e.InvoiceNumber != nil {
		m[string(FieldInvoiceNumber)] = *e.InvoiceNumber
	}
	return m
}

// Confidences returns the confidence of every field, zero when absent
func (e ExtractedInvoice) Confidences() map[string]float64 {
	m := make(map[string]float64, len(AllFields))
	for _, f := range AllFields {
		m[string(f)] = e.FieldConfidence[f]
	}
	return m
}

type invoiceJSON struct {
	Source            string                `json:"source,omitempty"`
	Fields            map[string]*string    `json:"fields"`
	Confidence        map[string]float64    `json:"confidence"`
	OverallConfidence float64               `json:"overall_confidence"`
	IsValid           bool                  `json:"is_valid"`
	Match             *business.MatchResult `json:"match,omitempty"`
	Method            string                `json:"method,omitempty"`
}

// MarshalJSON writes every field, with null for absent ones
func (e ExtractedInvoice) MarshalJSON() ([]byte, error) {
	present := e.FieldMap()
	fields := make(map[string]*string, len(AllFields))
	for _, f := range AllFields {
		if v, ok := present[string(f)]; ok {
			fields[string(f)] = &v
		} else {
			fields[string(f)] = nil
		}
	}
	return json.Marshal(invoiceJSON{
		Source:            e.Source,
		Fields:            fields,
		Confidence:        e.Confidences(),
		OverallConfidence: e.OverallConfidence,
		IsValid:           e.IsValid,
		Match:             e.Match,
		Method:            e.Method,
	})
}
