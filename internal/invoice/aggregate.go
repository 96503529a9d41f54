package invoice

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/zombor/invoice-extractor/internal/amount"
	"github.com/zombor/invoice-extractor/internal/business"
)

// Per-field confidences for fields that passed or failed validation
const (
	validConfidence         = 1.0
	implausibleConfidence   = 0.3
	invoiceNumberConfidence = 0.8
)

// Fields are the raw field values handed to Aggregate
type Fields struct {
	Company       *business.MatchResult
	Total         *decimal.Decimal
	Date          *time.Time
	InvoiceNumber string
}

// FieldWeights weigh each field in the overall confidence
type FieldWeights struct {
	Company       float64
	Total         float64
	Date          float64
	InvoiceNumber float64
}

// DefaultFieldWeights returns the default field weights, summing to one
func DefaultFieldWeights() FieldWeights {
	return FieldWeights{Company: 0.35, Total: 0.35, Date: 0.2, InvoiceNumber: 0.1}
}

func (w FieldWeights) isZero() bool {
	return w == FieldWeights{}
}

// AggregateConfig tunes field validation
type AggregateConfig struct {
	// Window bounds plausible totals
	Window amount.Window
	// MinYear is the earliest plausible invoice year, default 1990
	MinYear int
	// Now anchors the latest plausible date, one year ahead. Zero means time.Now.
	Now     time.Time
	Weights FieldWeights
}

const defaultMinYear = 1990

// Aggregate scores the fields and assembles the invoice. It never fails;
// absent fields score zero.
func Aggregate(f Fields, cfg AggregateConfig) ExtractedInvoice {
	if cfg.Weights.isZero() {
		cfg.Weights = DefaultFieldWeights()
	}
	if cfg.MinYear <= 0 {
		cfg.MinYear = defaultMinYear
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}

	inv := ExtractedInvoice{
		FieldConfidence: make(map[Field]float64, len(AllFields)),
		Match:           f.Company,
	}

	if f.Company != nil {
		name := f.Company.CanonicalName
		inv.Company = &name
		inv.FieldConfidence[FieldCompany] = clamp(f.Company.Confidence)
	}

	totalOK := false
	if f.Total != nil {
		t := *f.Total
		inv.Total = &t
		totalOK = cfg.Window.Contains(t)
		inv.FieldConfidence[FieldTotal] = validity(totalOK)
	}

	dateOK := false
	if f.Date != nil {
		d := *f.Date
		inv.Date = &d
		dateOK = plausibleDate(d, cfg.MinYear, cfg.Now)
		inv.FieldConfidence[FieldDate] = validity(dateOK)
	}

	if f.InvoiceNumber != "" {
		n := f.InvoiceNumber
		inv.InvoiceNumber = &n
		inv.FieldConfidence[FieldInvoiceNumber] = invoiceNumberConfidence
	}

	w := cfg.Weights
	inv.OverallConfidence = clamp(
		w.Company*inv.FieldConfidence[FieldCompany] +
			w.Total*inv.FieldConfidence[FieldTotal] +
			w.Date*inv.FieldConfidence[FieldDate] +
			w.InvoiceNumber*inv.FieldConfidence[FieldInvoiceNumber],
	)
	inv.IsValid = inv.Company != nil && totalOK && dateOK
	return inv
}

func validity(ok bool) float64 {
	if ok {
		return validConfidence
	}
	return implausibleConfidence
}

func plausibleDate(d time.Time, minYear int, now time.Time) bool {
	earliest := time.Date(minYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	return !d.Before(earliest) && !d.After(now.AddDate(1, 0, 0))
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
