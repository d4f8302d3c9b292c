package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	v1 "github.com/gosuda/auditchain/internal/api/v1"
	"github.com/gosuda/auditchain/internal/auth"
	"github.com/gosuda/auditchain/internal/config"
	"github.com/gosuda/auditchain/internal/server/middleware"
)

// Deps are the services the HTTP API exposes.
type Deps struct {
	Logger    v1.AuditLogger
	Verifier  v1.ChainVerifier
	Sequences v1.SequenceReader
	Retention v1.RetentionService
	// Health reports storage readiness; nil means always healthy.
	Health func(ctx context.Context) error
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates a Server with all routes wired. ctx bounds the background
// cleanup of rate limiter state.
func New(ctx context.Context, cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		logger: logger,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	// Mount API routes on /api/v1 with two authenticated sub-groups:
	// 1. Tenant group for records and chain inspection.
	// 2. Admin group for retention, which spans all tenants.
	router.Route("/api/v1", func(r chi.Router) {
		// Throttle per client ahead of token validation.
		r.Use(middleware.RateLimitByIP(ctx, cfg.Server.RateLimit*2, cfg.Server.RateBurst*2))
		r.Use(middleware.Auth(cfg.JWT.Secret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator())
			r.Use(middleware.RateLimit(ctx, cfg.Server.RateLimit, cfg.Server.RateBurst))

			apiConfig := huma.DefaultConfig("auditchain API", "1.0.0")
			apiConfig.Servers = []*huma.Server{
				{URL: "/api/v1"},
			}
			api := humachi.New(r, apiConfig)
			registerAPIRoutes(api, deps)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator(auth.RoleAdmin))

			adminConfig := huma.DefaultConfig("auditchain admin API", "1.0.0")
			adminConfig.Servers = []*huma.Server{
				{URL: "/api/v1"},
			}
			adminConfig.OpenAPIPath = "/admin/openapi"
			adminConfig.DocsPath = "/admin/docs"
			adminConfig.SchemasPath = "/admin/schemas"
			adminAPI := humachi.New(r, adminConfig)
			registerAdminRoutes(adminAPI, deps)
		})
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.Health != nil {
			if err := deps.Health(r.Context()); err != nil {
				s.logger.Warn().Err(err).Msg("health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
