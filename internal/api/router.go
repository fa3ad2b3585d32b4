// Package api provides the REST API for genforge-service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/genforge-dev/genforge/internal/config"
	"github.com/genforge-dev/genforge/pkg/artifact"
	"github.com/genforge-dev/genforge/pkg/autoproject"
	"github.com/genforge-dev/genforge/pkg/generation"
	"github.com/genforge-dev/genforge/pkg/pipeline"
	"github.com/genforge-dev/genforge/pkg/provider"
	"github.com/genforge-dev/genforge/pkg/stream"
)

// Server represents the API server.
type Server struct {
	cfg    *config.Config
	router chi.Router

	projects     generation.ProjectRepository
	generations  generation.GenerationRepository
	artifacts    artifact.Store
	autoprojects *autoproject.Service
	orchestrator *pipeline.Orchestrator
	gateway      *stream.Gateway
	limiter      *provider.RateLimiter
}

// NewServer creates a new API server wired to every domain dependency a
// handler needs: the project/generation repositories, the artifact store,
// the auto-project resolver, the orchestrator, and the stream gateway.
func NewServer(
	cfg *config.Config,
	projects generation.ProjectRepository,
	generations generation.GenerationRepository,
	artifacts artifact.Store,
	autoprojects *autoproject.Service,
	orchestrator *pipeline.Orchestrator,
	gateway *stream.Gateway,
) *Server {
	s := &Server{
		cfg:          cfg,
		projects:     projects,
		generations:  generations,
		artifacts:    artifacts,
		autoprojects: autoprojects,
		orchestrator: orchestrator,
		gateway:      gateway,
	}

	if cfg.API.RateLimit > 0 {
		s.limiter = provider.NewRateLimiter(cfg.API.RateLimit * 60)
	}

	s.setupRouter()
	return s
}

// setupRouter configures all routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	if s.cfg.Security.CORSEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.API.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Optional API key authentication
	if s.cfg.API.APIKey != "" {
		r.Use(s.apiKeyAuth)
	}

	// Optional inbound rate limiting (rate_limit_per_minute)
	if s.limiter != nil {
		r.Use(s.rateLimit)
	}

	// Health and version endpoints (no auth)
	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	// Generation endpoints (§6)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate", s.handleSubmit)
		r.Route("/generations/{generationID}", func(r chi.Router) {
			r.Get("/", s.handleGetGeneration)
			r.Post("/iterate", s.handleIterate)
			r.Get("/stream", s.handleStream)
		})
		r.Get("/projects/{projectID}/generations", s.handleListGenerations)
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// rateLimit is middleware enforcing API.RateLimit (rate_limit_per_minute)
// against the shared token-bucket RateLimiter, rejecting requests over the
// configured rate with 429 once the bucket is empty.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/version" {
			next.ServeHTTP(w, r)
			return
		}

		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth is middleware that validates API key.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health and version
		if r.URL.Path == "/health" || r.URL.Path == "/version" {
			next.ServeHTTP(w, r)
			return
		}

		// Skip auth for localhost without API key configured
		if s.cfg.API.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Check API key header
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey != s.cfg.API.APIKey {
			writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
