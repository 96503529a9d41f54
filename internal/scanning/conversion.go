package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// transcribePrompt is the shared prompt used by all LLM providers for transcribing pages
const transcribePrompt = `You are an OCR engine. Transcribe every piece of text visible in this invoice or receipt image.

Rules:
- Reproduce the text verbatim, keeping the original language, spelling, punctuation and number formatting
- Keep one printed line per output line, top to bottom
- Do not translate, summarize, correct or reformat anything
- Do not add commentary, headings or markdown
- If the image contains no text, return an empty response`

// RenderOptions controls page rendering and preprocessing
type RenderOptions struct {
	DPI       float64 // rasterization DPI for PDFs, default 300
	MaxPages  int     // 0 = no limit
	MinHeight int     // images shorter than this are upscaled, default 1500
	Contrast  float64 // contrast adjustment percentage, default 20
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.DPI <= 0 {
		o.DPI = 300
	}
	if o.MinHeight <= 0 {
		o.MinHeight = 1500
	}
	if o.Contrast == 0 {
		o.Contrast = 20
	}
	return o
}

// RenderPages rasterizes the pages of a PDF
func RenderPages(pdfData []byte, opts RenderOptions) ([]image.Image, error) {
	opts = opts.withDefaults()

	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if opts.MaxPages > 0 && n > opts.MaxPages {
		n = opts.MaxPages
	}

	pages := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.ImageDPI(i, opts.DPI)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

// DecodeImage decodes JPEG, PNG, GIF, HEIC and HEIF images
func DecodeImage(imageData []byte, mimeType string) (image.Image, error) {
	// Check for HEIC/HEIF format (common on iPhones) - Go's standard image package doesn't support it
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// Preprocess prepares a page for OCR: grayscale, upscaling of small
// captures and a contrast boost
func Preprocess(img image.Image, opts RenderOptions) image.Image {
	opts = opts.withDefaults()

	out := imaging.Grayscale(img)
	if out.Bounds().Dy() < opts.MinHeight {
		out = imaging.Resize(out, 0, opts.MinHeight, imaging.Lanczos)
	}
	return imaging.AdjustContrast(out, opts.Contrast)
}

// EncodePNG encodes img as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// PageImages renders a PDF or decodes an image and returns one
// preprocessed PNG per page
func PageImages(data []byte, contentType string, opts RenderOptions) ([][]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	var pages []image.Image
	if mimeType == "application/pdf" {
		rendered, err := RenderPages(data, opts)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to images: %w", err)
		}
		pages = rendered
	} else {
		img, err := DecodeImage(data, mimeType)
		if err != nil {
			return nil, err
		}
		pages = []image.Image{img}
	}

	out := make([][]byte, 0, len(pages))
	for i, page := range pages {
		encoded, err := EncodePNG(Preprocess(page, opts))
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		out = append(out, encoded)
	}
	return out, nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
