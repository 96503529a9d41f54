package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zombor/invoice-extractor/internal/acquire"
	"github.com/zombor/invoice-extractor/internal/amount"
	"github.com/zombor/invoice-extractor/internal/business"
	"github.com/zombor/invoice-extractor/internal/dates"
	"github.com/zombor/invoice-extractor/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Acquirer turns a document into text
type Acquirer interface {
	Acquire(ctx context.Context, doc acquire.Document) (acquire.Result, error)
}

// Resolver finds the business named in invoice text
type Resolver interface {
	Resolve(text string) (*business.MatchResult, bool)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config tunes extraction
type Config struct {
	// Budget bounds the acquisition of one document; zero means no limit
	Budget time.Duration
	// Concurrency bounds ExtractBatch, default 4
	Concurrency int
	// Policy picks the total among candidates, default amount.KeywordPolicy
	Policy amount.Policy
	// Window bounds plausible totals
	Window  amount.Window
	Dates   dates.Config
	MinYear int
	Weights FieldWeights
}

// Service extracts invoices from documents and text
type Service struct {
	acquirer   Acquirer
	resolver   Resolver
	dates      *dates.Extractor
	cfg        Config
	timeSource TimeSource
}

// NewService creates a new Service with the wall clock
func NewService(acquirer Acquirer, resolver Resolver, cfg Config) *Service {
	return NewServiceWithDeps(acquirer, resolver, cfg, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(acquirer Acquirer, resolver Resolver, cfg Config, timeSrc TimeSource) *Service {
	if cfg.Policy == nil {
		cfg.Policy = amount.KeywordPolicy{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Service{
		acquirer:   acquirer,
		resolver:   resolver,
		dates:      dates.New(cfg.Dates),
		cfg:        cfg,
		timeSource: timeSrc,
	}
}

// ExtractText extracts the fields of already acquired text
func (s *Service) ExtractText(text string) ExtractedInvoice {
	var f Fields

	if match, ok := s.Resolve(text); ok {
		f.Company = match
	}
	f.Total = s.selectTotal(text)
	if c, ok := s.dates.Extract(text); ok {
		d := c.Date
		f.Date = &d
	}
	f.InvoiceNumber, _ = FindInvoiceNumber(text)

	inv := Aggregate(f, AggregateConfig{
		Window:  s.cfg.Window,
		MinYear: s.cfg.MinYear,
		Now:     s.timeSource.Now(),
		Weights: s.cfg.Weights,
	})
	metrics.ExtractedInvoices.WithLabelValues(strconv.FormatBool(inv.IsValid)).Inc()
	return inv
}

// Resolve finds the business named in text
func (s *Service) Resolve(text string) (*business.MatchResult, bool) {
	if s.resolver == nil {
		return nil, false
	}
	return s.resolver.Resolve(text)
}

// selectTotal applies the policy to in-window candidates. When none is
// in the window the policy's pick among all candidates is kept so it is
// reported at low confidence.
func (s *Service) selectTotal(text string) *decimal.Decimal {
	cands := amount.FindTotals(text)
	if len(cands) == 0 {
		return nil
	}
	if c, ok := s.cfg.Policy.Select(cands, s.cfg.Window); ok {
		return &c.Value
	}
	if c, ok := s.cfg.Policy.Select(cands, spanning(cands)); ok {
		return &c.Value
	}
	return nil
}

// spanning returns the window covering every candidate
func spanning(cands []amount.Candidate) amount.Window {
	lo, hi := cands[0].Value, cands[0].Value
	for _, c := range cands[1:] {
		lo = decimal.Min(lo, c.Value)
		hi = decimal.Max(hi, c.Value)
	}
	return amount.NewWindow(lo, hi)
}

// ExtractDocument acquires the text of doc and extracts its fields. The
// only error is acquisition failure, which wraps acquire.ErrNoTextExtracted.
func (s *Service) ExtractDocument(ctx context.Context, doc acquire.Document) (ExtractedInvoice, error) {
	ctx, cancel := acquire.WithBudget(ctx, s.cfg.Budget)
	defer cancel()

	res, err := s.acquirer.Acquire(ctx, doc)
	if err != nil {
		slog.Error("Failed to acquire text",
			"document", doc.Name(),
			"content_type", doc.ContentType,
			"attempts", res.Attempts,
			"error", err,
		)
		if !errors.Is(err, acquire.ErrNoTextExtracted) {
			err = fmt.Errorf("%w: %w", acquire.ErrNoTextExtracted, err)
		}
		return ExtractedInvoice{}, fmt.Errorf("extracting %s: %w", doc.Name(), err)
	}

	inv := s.ExtractText(res.Text)
	inv.Method = res.Strategy
	inv.Source = doc.Name()
	slog.Info("Extracted invoice",
		"document", doc.Name(),
		"strategy", res.Strategy,
		"attempts", res.Attempts,
		"duration", res.Duration,
		"overall_confidence", inv.OverallConfidence,
		"is_valid", inv.IsValid,
	)
	return inv, nil
}

// ExtractFile loads the file at path and extracts it
func (s *Service) ExtractFile(ctx context.Context, path string) (ExtractedInvoice, error) {
	doc, err := acquire.LoadDocument(path)
	if err != nil {
		return ExtractedInvoice{}, fmt.Errorf("%w: %w", acquire.ErrNoTextExtracted, err)
	}
	return s.ExtractDocument(ctx, doc)
}

// BatchResult is the outcome for one file of a batch
type BatchResult struct {
	Path    string
	Invoice ExtractedInvoice
	Err     error
}

// ExtractBatch extracts files in parallel, bounded by Config.Concurrency.
// Results keep the order of paths; a failed file does not stop the others.
func (s *Service) ExtractBatch(ctx context.Context, paths []string) []BatchResult {
	results := make([]BatchResult, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			inv, err := s.ExtractFile(ctx, path)
			results[i] = BatchResult{Path: path, Invoice: inv, Err: err}
			return nil
		})
	}
	g.Wait()

	return results
}
