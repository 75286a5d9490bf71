package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/lore/internal/auth"
	"github.com/mattjoyce/lore/internal/extension"
	"github.com/mattjoyce/lore/internal/journal"
	"github.com/mattjoyce/lore/internal/sandbox"
)

// ToolCaller runs extension tools. *sandbox.Coordinator implements it.
type ToolCaller interface {
	CallTool(ctx context.Context, route extension.Route, toolName string, args map[string]any, tc extension.ToolContext) (any, error)
	Status() []sandbox.WorkerStatus
}

// ExtensionRegistry looks up installed extensions.
type ExtensionRegistry interface {
	Get(name string) (*extension.Installed, bool)
	All() []*extension.Installed
}

// CallHistory lists journaled calls. Optional.
type CallHistory interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey grants every scope. With no APIKey and no Tokens the API is open.
	APIKey string
	Tokens []auth.TokenConfig

	// Tool context handed to every call.
	Mode    string
	DataDir string
	DBPath  string
}

func (c Config) authEnabled() bool {
	return c.APIKey != "" || len(c.Tokens) > 0
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	tools     ToolCaller
	registry  ExtensionRegistry
	history   CallHistory
	events    EventSource
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	keepAlive time.Duration
}

// New creates a new API server instance. history may be nil.
func New(config Config, tools ToolCaller, registry ExtensionRegistry, history CallHistory, logger *slog.Logger) *Server {
	if config.Mode == "" {
		config.Mode = "api"
	}
	return &Server{
		config:    config,
		tools:     tools,
		registry:  registry,
		history:   history,
		logger:    logger,
		startedAt: time.Now(),
		keepAlive: 15 * time.Second,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Tool calls may run up to the sandbox timeout.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	if !s.config.authEnabled() {
		s.logger.Warn("API authentication is disabled; set api.api_key or api.tokens", "listen", s.config.Listen)
	}
	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeExtensionsRead)).Get("/extensions", s.handleListExtensions)
		r.With(s.requireScopes(auth.ScopeExtensionsRead)).Get("/calls", s.handleListCalls)
		r.With(s.requireScopes(auth.ScopeExtensionsRead)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeToolsCall)).Post("/extensions/{extension}/tools/{tool}", s.handleCallTool)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
