package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zombor/invoice-extractor/internal/metrics"
	"github.com/zombor/invoice-extractor/internal/scanning"
)

// DefaultStrategies is the default strategy order
var DefaultStrategies = []string{"text", "fitz", "pdf", "ocr"}

// Config tunes the pipeline. Zero values select defaults.
type Config struct {
	MinTextLength int           // default 10
	MaxRetries    int           // attempts per strategy, default 3
	RetryDelay    time.Duration // pause between attempts of one strategy
}

// Result is the text obtained from a document
type Result struct {
	Text     string
	Strategy string
	Attempts int
	Duration time.Duration
}

// Pipeline runs strategies in order until one yields enough text
type Pipeline struct {
	strategies []Strategy
	cfg        Config
}

// NewPipeline creates a Pipeline with the given strategies in order
func NewPipeline(cfg Config, strategies ...Strategy) *Pipeline {
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Pipeline{strategies: strategies, cfg: cfg}
}

// StrategyOptions carries what named strategies need to be built
type StrategyOptions struct {
	Recognizer scanning.Recognizer
	Render     scanning.RenderOptions
	MaxPages   int
}

// NewPipelineFromNames builds a pipeline from strategy names such as
// "text", "fitz", "pdf" and "ocr". The OCR strategy is left out with a
// warning when no recognizer is configured.
func NewPipelineFromNames(cfg Config, names []string, opts StrategyOptions) (*Pipeline, error) {
	if len(names) == 0 {
		names = DefaultStrategies
	}

	strategies := make([]Strategy, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "text":
			strategies = append(strategies, TextStrategy{})
		case "fitz":
			strategies = append(strategies, FitzStrategy{MaxPages: opts.MaxPages})
		case "pdf":
			strategies = append(strategies, PDFStrategy{})
		case "ocr":
			if opts.Recognizer == nil {
				slog.Warn("OCR strategy skipped, no recognizer configured")
				continue
			}
			render := opts.Render
			if render.MaxPages == 0 {
				render.MaxPages = opts.MaxPages
			}
			strategies = append(strategies, OCRStrategy{Recognizer: opts.Recognizer, Render: render})
		default:
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no usable strategies in %v", names)
	}
	return NewPipeline(cfg, strategies...), nil
}

// Strategies returns the strategy names in order
func (p *Pipeline) Strategies() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name()
	}
	return names
}

// WithBudget bounds a whole acquisition to budget. A zero budget only
// adds cancellation.
func WithBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

// Acquire returns the text of doc from the first strategy that yields at
// least MinTextLength characters. Each strategy gets MaxRetries attempts;
// short text counts as a failed attempt. Unsupported strategies are
// skipped, permanent errors abort at once. When every attempt fails, or
// ctx ends first, the error wraps ErrNoTextExtracted.
func (p *Pipeline) Acquire(ctx context.Context, doc Document) (Result, error) {
	start := time.Now()
	attempts := 0
	var failures []string

	exhausted := func(cause error) (Result, error) {
		return Result{Attempts: attempts, Duration: time.Since(start)}, cause
	}

strategies:
	for _, s := range p.strategies {
		name := s.Name()
		for try := 1; try <= p.cfg.MaxRetries; try++ {
			if err := ctx.Err(); err != nil {
				return exhausted(fmt.Errorf("%w: %w", ErrNoTextExtracted, err))
			}

			attempts++
			attemptStart := time.Now()
			text, err := s.TryExtract(ctx, doc)
			metrics.AcquisitionDuration.WithLabelValues(name).Observe(time.Since(attemptStart).Seconds())

			switch {
			case errors.Is(err, ErrUnsupported):
				attempts--
				metrics.AcquisitionAttempts.WithLabelValues(name, metrics.OutcomeUnsupported).Inc()
				continue strategies
			case err != nil && IsPermanent(err):
				metrics.AcquisitionAttempts.WithLabelValues(name, metrics.OutcomePermanent).Inc()
				slog.Error("Acquisition aborted", "document", doc.Name(), "strategy", name, "error", err)
				return exhausted(fmt.Errorf("%s: %w", name, err))
			case err != nil:
				metrics.AcquisitionAttempts.WithLabelValues(name, metrics.OutcomeError).Inc()
				if ctxErr := ctx.Err(); ctxErr != nil {
					return exhausted(fmt.Errorf("%w: %w", ErrNoTextExtracted, ctxErr))
				}
				slog.Warn("Acquisition attempt failed", "document", doc.Name(), "strategy", name, "attempt", try, "error", err)
				failures = append(failures, fmt.Sprintf("%s attempt %d: %v", name, try, err))
			default:
				text = strings.TrimSpace(text)
				if n := utf8.RuneCountInString(text); n < p.cfg.MinTextLength {
					metrics.AcquisitionAttempts.WithLabelValues(name, metrics.OutcomeShort).Inc()
					slog.Debug("Acquired text too short", "document", doc.Name(), "strategy", name, "attempt", try, "length", n)
					failures = append(failures, fmt.Sprintf("%s attempt %d: %d characters", name, try, n))
					break
				}
				metrics.AcquisitionAttempts.WithLabelValues(name, metrics.OutcomeSuccess).Inc()
				slog.Debug("Acquired text", "document", doc.Name(), "strategy", name, "attempt", try, "length", len(text))
				return Result{
					Text:     text,
					Strategy: name,
					Attempts: attempts,
					Duration: time.Since(start),
				}, nil
			}

			if try < p.cfg.MaxRetries && p.cfg.RetryDelay > 0 {
				if err := sleep(ctx, p.cfg.RetryDelay); err != nil {
					return exhausted(fmt.Errorf("%w: %w", ErrNoTextExtracted, err))
				}
			}
		}
	}

	if len(failures) == 0 {
		return exhausted(fmt.Errorf("%w: no strategy supports %s", ErrNoTextExtracted, doc.Name()))
	}
	return exhausted(fmt.Errorf("%w after %d attempts: %s", ErrNoTextExtracted, attempts, strings.Join(failures, "; ")))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
