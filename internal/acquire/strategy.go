package acquire

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/zombor/invoice-extractor/internal/scanning"
)

// Strategy extracts text from a document
type Strategy interface {
	// Name identifies the strategy in logs, metrics and configuration
	Name() string
	// TryExtract returns the document text or an error. ErrUnsupported
	// skips the strategy; errors wrapped with Permanent abort the pipeline.
	TryExtract(ctx context.Context, doc Document) (string, error)
}

// TextStrategy passes plain-text documents through unchanged
type TextStrategy struct{}

// Name implements Strategy
func (TextStrategy) Name() string { return "text" }

// TryExtract implements Strategy
func (TextStrategy) TryExtract(ctx context.Context, doc Document) (string, error) {
	if doc.Kind() != KindText {
		return "", ErrUnsupported
	}
	if !utf8.Valid(doc.Data) {
		return "", Permanent(fmt.Errorf("text document is not valid UTF-8"))
	}
	return string(doc.Data), nil
}

// FitzStrategy reads the embedded text layer of a PDF with MuPDF
type FitzStrategy struct {
	MaxPages int // 0 = no limit
}

// Name implements Strategy
func (FitzStrategy) Name() string { return "fitz" }

// TryExtract implements Strategy
func (s FitzStrategy) TryExtract(ctx context.Context, doc Document) (string, error) {
	if doc.Kind() != KindPDF {
		return "", ErrUnsupported
	}

	d, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer d.Close()

	n := d.NumPage()
	if s.MaxPages > 0 && n > s.MaxPages {
		n = s.MaxPages
	}

	pages := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := d.Text(i)
		if err != nil {
			return "", fmt.Errorf("reading text of page %d: %w", i+1, err)
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return strings.Join(pages, "\n"), nil
}

// PDFStrategy reads the text layer of a PDF with a pure Go parser. It
// serves as a fallback for files MuPDF rejects.
type PDFStrategy struct{}

// Name implements Strategy
func (PDFStrategy) Name() string { return "pdf" }

// TryExtract implements Strategy
func (PDFStrategy) TryExtract(ctx context.Context, doc Document) (text string, err error) {
	if doc.Kind() != KindPDF {
		return "", ErrUnsupported
	}

	// The parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	return string(b), nil
}

// OCRStrategy renders the document to images and transcribes them
type OCRStrategy struct {
	Recognizer scanning.Recognizer
	Render     scanning.RenderOptions
}

// Name implements Strategy
func (OCRStrategy) Name() string { return "ocr" }

// TryExtract implements Strategy
func (s OCRStrategy) TryExtract(ctx context.Context, doc Document) (string, error) {
	kind := doc.Kind()
	if kind != KindPDF && kind != KindImage {
		return "", ErrUnsupported
	}

	pages, err := scanning.PageImages(doc.Data, doc.ContentType, s.Render)
	if err != nil {
		return "", fmt.Errorf("preparing pages: %w", err)
	}

	texts := make([]string, 0, len(pages))
	for i, page := range pages {
		text, err := s.Recognizer.Recognize(ctx, page)
		if err != nil {
			return "", fmt.Errorf("recognizing page %d: %w", i+1, err)
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, "\n"), nil
}
