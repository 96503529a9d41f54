package scanning

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Tesseract implements the Recognizer interface by shelling out to the
// tesseract CLI
type Tesseract struct {
	bin    string
	lang   string
	psm    int
	runner Runner
}

// NewTesseract creates a Tesseract Recognizer. Empty values fall back to
// the "tesseract" binary, English plus French, and page segmentation mode 6.
func NewTesseract(bin, lang string, psm int) *Tesseract {
	return NewTesseractWithRunner(bin, lang, psm, execRunner{})
}

// NewTesseractWithRunner creates a Tesseract Recognizer with a custom command runner for testing
func NewTesseractWithRunner(bin, lang string, psm int, runner Runner) *Tesseract {
	if bin == "" {
		bin = "tesseract"
	}
	if lang == "" {
		lang = "eng+fra"
	}
	if psm <= 0 {
		psm = 6
	}
	return &Tesseract{bin: bin, lang: lang, psm: psm, runner: runner}
}

// Recognize transcribes a PNG page
func (t *Tesseract) Recognize(ctx context.Context, png []byte) (string, error) {
	f, err := os.CreateTemp("", "invoice-page-*.png")
	if err != nil {
		return "", fmt.Errorf("creating temp image: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(png); err != nil {
		f.Close()
		return "", fmt.Errorf("writing temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing temp image: %w", err)
	}

	stdout, stderr, err := t.runner.Run(ctx, t.bin, f.Name(), "stdout",
		"-l", t.lang,
		"--psm", strconv.Itoa(t.psm),
	)
	if err != nil {
		return "", fmt.Errorf("running tesseract: %w: %s", err, strings.TrimSpace(truncate(string(stderr), 512)))
	}

	return cleanTranscript(string(stdout)), nil
}

// Close is a no-op; each call runs its own process
func (t *Tesseract) Close() error {
	return nil
}
