package invoice

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zombor/invoice-extractor/internal/business"
)

// Server handles HTTP requests for extraction and the business registry
type Server struct {
	service   *Service
	registry  *business.Registry
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, registry *business.Registry, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, registry, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, registry *business.Registry, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		registry:  registry,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Invoice Extractor"`)
			corsError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Extraction
	s.mux.HandleFunc("POST /api/extract", s.requireAuth(s.handleExtract))
	s.mux.HandleFunc("POST /api/resolve", s.requireAuth(s.handleResolve))

	// Business registry (most specific paths first)
	s.mux.HandleFunc("POST /api/businesses/{id}/keywords", s.requireAuth(s.handleAddKeyword))
	s.mux.HandleFunc("DELETE /api/businesses/{id}/keywords", s.requireAuth(s.handleRemoveKeyword))
	s.mux.HandleFunc("PUT /api/businesses/{id}/indicators", s.requireAuth(s.handleSetIndicators))
	s.mux.HandleFunc("GET /api/businesses/{id}", s.requireAuth(s.handleGetBusiness))
	s.mux.HandleFunc("PUT /api/businesses/{id}", s.requireAuth(s.handleUpdateBusiness))
	s.mux.HandleFunc("DELETE /api/businesses/{id}", s.requireAuth(s.handleDeleteBusiness))
	s.mux.HandleFunc("GET /api/businesses", s.requireAuth(s.handleListBusinesses))
	s.mux.HandleFunc("POST /api/businesses", s.requireAuth(s.handleAddBusiness))

	// Weights and mapping
	s.mux.HandleFunc("GET /api/weights", s.requireAuth(s.handleGetWeights))
	s.mux.HandleFunc("PUT /api/weights", s.requireAuth(s.handleSetWeights))
	s.mux.HandleFunc("GET /api/mapping", s.requireAuth(s.handleExportMapping))
	s.mux.HandleFunc("PUT /api/mapping", s.requireAuth(s.handleImportMapping))

	// Operations
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
