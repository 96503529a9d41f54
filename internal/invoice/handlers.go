package invoice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/invoice-extractor/internal/acquire"
	"github.com/zombor/invoice-extractor/internal/business"
)

const (
	maxUploadSize = int64(50 << 20) // 50MB
	maxJSONSize   = int64(1 << 20)
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a JSON error body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONSize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// registryError maps registry errors to status codes
func registryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, business.ErrNotFound), errors.Is(err, business.ErrKeywordNotPresent):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, business.ErrDuplicateName), errors.Is(err, business.ErrDuplicateKeyword):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, business.ErrInvalidRecord), errors.Is(err, business.ErrInvalidWeights):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Registry error", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleExtract accepts a multipart upload in the "file" field, or a
// text/plain body holding already transcribed text
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "text/plain" {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
		if err != nil {
			jsonError(w, "Error reading body", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, s.service.ExtractText(string(data)))
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		jsonError(w, "File is too large. Maximum size is 50MB.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = acquire.DetectContentType(header.Filename, data)
	}

	inv, err := s.service.ExtractDocument(r.Context(), acquire.Document{
		Path:        header.Filename,
		Data:        data,
		ContentType: contentType,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// handleResolve resolves the business named in a text/plain body
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxJSONSize))
	if err != nil {
		jsonError(w, "Error reading body", http.StatusBadRequest)
		return
	}
	match, ok := s.service.Resolve(string(data))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"match": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"match": match})
}

// handleListBusinesses returns all businesses
func (s *Server) handleListBusinesses(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.List(r.Context())
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetBusiness returns a single business
func (s *Server) handleGetBusiness(w http.ResponseWriter, r *http.Request) {
	record, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleAddBusiness creates a business
func (s *Server) handleAddBusiness(w http.ResponseWriter, r *http.Request) {
	var record business.Record
	if err := decodeJSON(r, &record); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	added, err := s.registry.Add(r.Context(), &record)
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

// handleUpdateBusiness replaces a business
func (s *Server) handleUpdateBusiness(w http.ResponseWriter, r *http.Request) {
	var record business.Record
	if err := decodeJSON(r, &record); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	record.ID = r.PathValue("id")
	updated, err := s.registry.Update(r.Context(), &record)
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteBusiness deletes a business
func (s *Server) handleDeleteBusiness(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(r.Context(), r.PathValue("id")); err != nil {
		registryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddKeyword adds a keyword to a business
func (s *Server) handleAddKeyword(w http.ResponseWriter, r *http.Request) {
	var kw business.Keyword
	if err := decodeJSON(r, &kw); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	record, err := s.registry.AddKeyword(r.Context(), r.PathValue("id"), kw)
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleRemoveKeyword removes a keyword from a business
func (s *Server) handleRemoveKeyword(w http.ResponseWriter, r *http.Request) {
	var kw business.Keyword
	if err := decodeJSON(r, &kw); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	record, err := s.registry.RemoveKeyword(r.Context(), r.PathValue("id"), kw)
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleSetIndicators replaces the indicators of a business
func (s *Server) handleSetIndicators(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Indicators []string `json:"indicators"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	record, err := s.registry.SetIndicators(r.Context(), r.PathValue("id"), body.Indicators)
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := s.registry.Weights(r.Context())
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, weights)
}

func (s *Server) handleSetWeights(w http.ResponseWriter, r *http.Request) {
	var weights business.Weights
	if err := decodeJSON(r, &weights); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.registry.SetWeights(r.Context(), weights); err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, weights)
}

// handleExportMapping returns the registry as a mapping document
func (s *Server) handleExportMapping(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Export(r.Context())
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleImportMapping loads a mapping document. ?replace=true drops
// businesses missing from it.
func (s *Server) handleImportMapping(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		jsonError(w, "Error reading body", http.StatusBadRequest)
		return
	}
	m, err := business.ParseMapping(raw)
	if err != nil {
		registryError(w, err)
		return
	}
	replace, _ := strconv.ParseBool(r.URL.Query().Get("replace"))
	if err := s.registry.Import(r.Context(), m, replace); err != nil {
		registryError(w, err)
		return
	}
	s.handleExportMapping(w, r)
}
