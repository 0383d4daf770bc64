package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
)

// Server handles HTTP requests for the ledger
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
	handler   http.Handler
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux. An empty origins list allows any origin.
func NewServer(service *Service, basicAuth BasicAuth, origins []string) *Server {
	return NewServerWithMux(service, basicAuth, origins, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, origins []string, mux *http.ServeMux) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	s.handler = cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         3600,
	})(s.mux)
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

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Cost Tracker"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Uploads and the document archive
	s.mux.HandleFunc("POST /api/uploads", s.requireAuth(s.handleUpload))
	s.mux.HandleFunc("GET /api/documents/{id}/file", s.requireAuth(s.handleDocumentFile))
	s.mux.HandleFunc("GET /api/documents/{id}/preview", s.requireAuth(s.handleDocumentPreview))
	s.mux.HandleFunc("GET /api/documents", s.requireAuth(s.handleListDocuments))

	// Line items and their cost view
	s.mux.HandleFunc("GET /api/materials", s.requireAuth(s.handleMaterialCosts))
	s.mux.HandleFunc("PUT /api/materials/{id}", s.requireAuth(s.handleUpdateLineItem))
	s.mux.HandleFunc("DELETE /api/materials/{id}", s.requireAuth(s.handleDeleteLineItem))
	s.mux.HandleFunc("DELETE /api/materials", s.requireAuth(s.handleDeleteAllLineItems))
	s.mux.HandleFunc("GET /api/line-items", s.requireAuth(s.handleListLineItems))
	s.mux.HandleFunc("POST /api/manual-entries", s.requireAuth(s.handleManualEntries))

	// Attribute mappings
	s.mux.HandleFunc("POST /api/attribute-mappings", s.requireAuth(s.handleUpsertMapping))
	s.mux.HandleFunc("GET /api/attribute-mappings", s.requireAuth(s.handleListMappings))
	s.mux.HandleFunc("DELETE /api/attribute-mappings/{description}", s.requireAuth(s.handleDeleteMapping))

	// Products
	s.mux.HandleFunc("POST /api/products/{id}/materials", s.requireAuth(s.handleAddMaterial))
	s.mux.HandleFunc("PUT /api/products/{id}/materials/{mid}", s.requireAuth(s.handleUpdateMaterial))
	s.mux.HandleFunc("DELETE /api/products/{id}/materials/{mid}", s.requireAuth(s.handleRemoveMaterial))
	s.mux.HandleFunc("DELETE /api/products/{id}/materials", s.requireAuth(s.handleRemoveAllMaterials))
	s.mux.HandleFunc("GET /api/products/{id}", s.requireAuth(s.handleGetProduct))
	s.mux.HandleFunc("PUT /api/products/{id}", s.requireAuth(s.handleRenameProduct))
	s.mux.HandleFunc("DELETE /api/products/{id}", s.requireAuth(s.handleDeleteProduct))
	s.mux.HandleFunc("GET /api/products", s.requireAuth(s.handleListProducts))
	s.mux.HandleFunc("POST /api/products", s.requireAuth(s.handleCreateProduct))

	// Suggestions for manual entry
	s.mux.HandleFunc("GET /api/suggestions/issuers", s.requireAuth(s.handleIssuerSuggestions))
	s.mux.HandleFunc("GET /api/suggestions/product-codes", s.requireAuth(s.handleProductCodeSuggestions))

	// Bulk import and export
	s.mux.HandleFunc("POST /api/imports/line-items", s.requireAuth(s.handleImportLineItems))
	s.mux.HandleFunc("POST /api/imports/attribute-mappings", s.requireAuth(s.handleImportMappings))
	s.mux.HandleFunc("GET /api/export.csv", s.requireAuth(s.handleExport(FormatCSV)))
	s.mux.HandleFunc("GET /api/export.xlsx", s.requireAuth(s.handleExport(FormatXLSX)))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
