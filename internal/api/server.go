// Package api provides the HTTP API server for SAGE.
//
// This package implements the API gateway layer using go-chi/chi router.
// It handles routing, the middleware chain, and server lifecycle.
//
// The middleware chain runs in order:
// RequestID -> RealIP -> Recoverer -> Timeout -> Auth -> RateLimit -> Audit
// -> CleanPath -> StripSlashes -> maintenance gate. Auth, Audit and the
// maintenance gate are added conditionally.
//
// Usage:
//
//	cfg := config.MustLoad()
//	server := api.NewServer(cfg, deps)
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal("Server failed:", err)
//	}
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/rshinytools/sage/internal/api/handlers"
	"github.com/rshinytools/sage/internal/api/middleware"
	"github.com/rshinytools/sage/internal/audit"
	"github.com/rshinytools/sage/internal/cache"
	"github.com/rshinytools/sage/internal/config"
	"github.com/rshinytools/sage/internal/engine"
	"github.com/rshinytools/sage/internal/settings"
	"github.com/rshinytools/sage/internal/warehouse"
)

// Server represents the HTTP API server.
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server

	// Dependencies
	pipeline  *engine.Pipeline
	warehouse *warehouse.Client
	cache     *cache.QueryCache
	audit     *audit.Service
	settings  *settings.Store

	// Handlers
	chatHandler     *handlers.ChatHandler
	streamHandler   *handlers.StreamHandler
	auditHandler    *handlers.AuditHandler
	settingsHandler *handlers.SettingsHandler
	healthHandler   *handlers.HealthHandler
}

// Dependencies holds the required dependencies for the API server.
type Dependencies struct {
	Pipeline  *engine.Pipeline
	Warehouse *warehouse.Client
	Cache     *cache.QueryCache
	Audit     *audit.Service
	Settings  *settings.Store
	Logger    *slog.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg *config.Config, deps *Dependencies) *Server {
	if deps == nil {
		deps = &Dependencies{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    chi.NewRouter(),
		pipeline:  deps.Pipeline,
		warehouse: deps.Warehouse,
		cache:     deps.Cache,
		audit:     deps.Audit,
		settings:  deps.Settings,
	}

	s.chatHandler = handlers.NewChatHandler(handlers.ChatHandlerConfig{
		Pipeline:        deps.Pipeline,
		PipelineTimeout: cfg.System.PipelineTimeout,
		Logger:          logger,
	})
	s.streamHandler = handlers.NewStreamHandler(handlers.StreamHandlerConfig{
		Pipeline:        deps.Pipeline,
		PipelineTimeout: cfg.System.PipelineTimeout,
		Logger:          logger,
	})
	s.auditHandler = handlers.NewAuditHandler(handlers.AuditHandlerConfig{
		Service: deps.Audit,
		Logger:  logger,
	})
	s.settingsHandler = handlers.NewSettingsHandler(handlers.SettingsHandlerConfig{
		Store:  deps.Settings,
		Audit:  deps.Audit,
		Logger: logger,
	})
	var pinger handlers.Pinger
	if deps.Warehouse != nil {
		pinger = deps.Warehouse
	}
	s.healthHandler = handlers.NewHealthHandler(handlers.HealthHandlerConfig{
		Warehouse: pinger,
		Cache:     deps.Cache,
		Logger:    logger,
	})

	s.setupMiddleware()
	s.registerRoutes()

	return s
}

// setupMiddleware configures the middleware chain in order.
func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Timeout(s.config.Server.WriteTimeout))

	if s.config.Auth.JWTSecret != "" {
		s.router.Use(middleware.AuthMiddleware(s.config.Auth.JWTSecret, s.logger))
	}

	s.router.Use(middleware.RateLimitMiddleware(s.config.Server.RateLimitPerMinute, s.logger))

	if s.audit != nil && s.config.Audit.LogRequests {
		s.router.Use(middleware.AuditMiddleware(s.audit))
	}

	s.router.Use(chimiddleware.CleanPath)
	s.router.Use(chimiddleware.StripSlashes)

	if s.config.App.MaintenanceMode {
		s.router.Use(maintenanceGate)
	}
}

// maintenanceGate rejects query traffic while maintenance mode is on.
// Health and audit reads stay available.
func maintenanceGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/chat") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"the system is under maintenance, please try again later"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// registerRoutes mounts all API routes.
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.healthHandler.HandleHealth)

	s.router.Route("/chat", func(r chi.Router) {
		r.Post("/message", s.chatHandler.HandleMessage)
		r.Get("/stream", s.streamHandler.HandleStream)
	})

	s.router.Route("/audit", func(r chi.Router) {
		r.Get("/logs", s.auditHandler.HandleList)
		r.Get("/logs/{id}/verify", s.auditHandler.HandleVerify)
		r.Post("/logs/{id}/sign", s.auditHandler.HandleSign)
	})

	s.router.Route("/settings", func(r chi.Router) {
		r.Get("/{category}", s.settingsHandler.HandleGetCategory)
		r.Put("/{category}", s.settingsHandler.HandleUpdateCategory)
	})

	s.router.Route("/system", func(r chi.Router) {
		r.Get("/cache/stats", s.healthHandler.HandleCacheStats)
		r.Post("/cache/clear", s.healthHandler.HandleCacheClear)
	})
}

// Router exposes the configured router, primarily for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("API server starting", slog.String("addr", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("API server shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped")
	return nil
}
