// Package api provides the HTTP API server for formvault.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/config"
	"github.com/wesm/formvault/internal/metrics"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/results"
	"github.com/wesm/formvault/internal/search"
	"github.com/wesm/formvault/internal/store"
)

// ResultService lists and exports form results on behalf of a viewer.
type ResultService interface {
	List(ctx context.Context, viewer authz.Viewer, formID int64, page int) (*results.ListResult, error)
	Export(ctx context.Context, viewer authz.Viewer, formID int64, format string) (*results.ExportResult, error)
	SetFilters(ctx context.Context, viewer authz.Viewer, formID int64,
		filters []query.ColumnFilter, orderBy string, orderDir query.SortDirection) (results.Outcome, error)
	ListForms(ctx context.Context, viewer authz.Viewer, req results.FormsRequest) (*results.FormsResult, error)
	Commands() []search.Command
}

// FormStore defines the write operations the API needs.
type FormStore interface {
	GetStats() (*store.Stats, error)
	CreateForm(in store.FormInput) (int64, string, error)
	UpdateForm(id int64, in store.FormInput) (string, error)
	DeleteForm(id int64) error
	AddField(formID int64, label, alias string) (int64, error)
	AddSubmission(in store.SubmissionInput) (int64, error)
	DeleteSubmission(formID, id int64) (bool, error)
}

// FormReader looks up a single form.
type FormReader interface {
	GetForm(ctx context.Context, id int64) (*query.Form, error)
}

// Authorizer checks viewer capabilities.
type Authorizer = results.Authorizer

// Backend bundles the services a Server dispatches to.
type Backend struct {
	Results ResultService
	Forms   FormReader
	Store   FormStore
	Auth    Authorizer
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	backend     Backend
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		backend: backend,
		logger:  logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(corsMiddleware(s.cfg.Server))

	rps, burst := s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	s.rateLimiter = NewRateLimiter(rps, burst)

	// No auth required
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.rateLimitMiddleware)

		r.Get("/stats", s.handleStats)

		r.Get("/forms", s.handleListForms)
		r.Post("/forms", s.handleCreateForm)
		r.Get("/forms/search-commands", s.handleSearchCommands)

		r.Route("/forms/{id}", func(r chi.Router) {
			r.Put("/", s.handleUpdateForm)
			r.Delete("/", s.handleDeleteForm)
			r.Get("/results", s.handleListResults)
			r.Put("/results/filters", s.handleSetFilters)
			r.Get("/results/export", s.handleExport)
			r.Post("/submissions", s.handleAddSubmission)
			r.Delete("/submissions/{sid}", s.handleDeleteSubmission)
		})
	})

	return r
}

// Start begins listening for HTTP requests.
// Returns an error if the security posture is invalid.
func (s *Server) Start() error {
	if err := s.cfg.ValidateSecure(); err != nil {
		return err
	}

	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if len(s.cfg.Users) == 0 {
		s.logger.Warn("API server running without authentication; every request acts as admin. Add [[users]] to config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

type viewerKey struct{}

// anonymousAdmin is the viewer every request acts as when no users are
// configured.
var anonymousAdmin = authz.Viewer{ID: 0, Name: "admin", Roles: []string{authz.AdminRole}}

// viewerFrom returns the viewer set by authMiddleware.
func viewerFrom(ctx context.Context) authz.Viewer {
	if v, ok := ctx.Value(viewerKey{}).(authz.Viewer); ok {
		return v
	}
	return anonymousAdmin
}

// authMiddleware resolves the API key to a configured user.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no users configured
		if len(s.cfg.Users) == 0 {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), viewerKey{}, anonymousAdmin)))
			return
		}

		// Check Authorization header
		key := r.Header.Get("Authorization")
		if key == "" {
			// Also check X-API-Key header
			key = r.Header.Get("X-API-Key")
		}
		key = strings.TrimPrefix(key, "Bearer ")

		u := s.cfg.UserByAPIKey(key)
		if u == nil {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		viewer := authz.Viewer{ID: u.ID, Name: u.Name, Roles: u.Roles}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), viewerKey{}, viewer)))
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
