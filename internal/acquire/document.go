// Package acquire obtains raw text from invoice documents by running an
// ordered list of extraction strategies with bounded retries.
package acquire

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Kind is the broad family of a document
type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindImage
	KindText
)

// Document is an invoice file held in memory
type Document struct {
	Path        string
	Data        []byte
	ContentType string
}

// LoadDocument reads the file at path. A missing or unreadable file is a
// permanent error.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, Permanent(fmt.Errorf("reading document: %w", err))
	}
	return Document{
		Path:        path,
		Data:        data,
		ContentType: DetectContentType(path, data),
	}, nil
}

// DetectContentType determines the MIME type from the file extension,
// falling back to content sniffing
func DetectContentType(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".txt", ".text":
		return "text/plain"
	}

	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return "application/pdf"
	}
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		return "image/heic"
	}
	return http.DetectContentType(data)
}

// Kind classifies the document by its content type
func (d Document) Kind() Kind {
	ct := strings.ToLower(strings.TrimSpace(d.ContentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case ct == "application/pdf":
		return KindPDF
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case strings.HasPrefix(ct, "text/"):
		return KindText
	}
	return KindUnknown
}

// Name returns a label for logs
func (d Document) Name() string {
	if d.Path == "" {
		return "<memory>"
	}
	return filepath.Base(d.Path)
}
