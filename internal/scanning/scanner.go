// Package scanning turns rendered document pages into text with an OCR
// engine or a vision model.
package scanning

import (
	"context"
	"fmt"
)

// Recognizer defines the interface for page transcription
type Recognizer interface {
	// Recognize returns the text visible in a PNG page image
	Recognize(ctx context.Context, png []byte) (string, error)
	// Close closes the recognizer and releases resources
	Close() error
}

// Config selects and configures a Recognizer
type Config struct {
	Kind string // "tesseract", "gemini", "ollama" or "none"

	GeminiKey   string
	GeminiModel string

	OllamaURL   string
	OllamaModel string

	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TesseractLang string // default "eng+fra"
	PSM           int    // page segmentation mode, default 6
}

// New creates the Recognizer named by cfg.Kind. Kind "none" returns a nil
// Recognizer so callers can leave OCR out of the pipeline.
func New(cfg Config) (Recognizer, error) {
	switch cfg.Kind {
	case "", "tesseract":
		return NewTesseract(cfg.Tesseract, cfg.TesseractLang, cfg.PSM), nil
	case "gemini":
		return NewGemini(cfg.GeminiKey, cfg.GeminiModel)
	case "ollama":
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q: want tesseract, gemini, ollama or none", cfg.Kind)
	}
}
