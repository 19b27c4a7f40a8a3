package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ospgroupvn/usage-monitor/internal/config"
	"github.com/ospgroupvn/usage-monitor/internal/ingest"
	"github.com/ospgroupvn/usage-monitor/internal/token"
	"go.uber.org/zap"
)

// HealthCheck is a named readiness probe for a backing dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server handles API requests
type Server struct {
	ingest     *ingest.Service
	manager    *token.Manager
	logger     *zap.Logger
	router     *chi.Mux
	adminToken string
	checks     []HealthCheck
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, ingestSvc *ingest.Service, manager *token.Manager, adminToken string, logger *zap.Logger, checks ...HealthCheck) *Server {
	s := &Server{
		ingest:     ingestSvc,
		manager:    manager,
		logger:     logger,
		router:     chi.NewRouter(),
		adminToken: adminToken,
		checks:     checks,
	}

	s.setupRoutes(cfg.AllowedOrigins)
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(allowedOrigins []string) {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggerMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token", "X-MCP-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Metrics endpoint
	s.registerMetrics()

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)

	// Usage ingestion (bearer token checked inside the service)
	s.router.Post("/v1/usage/report", s.handleReport)

	// Admin endpoints
	s.router.Group(func(r chi.Router) {
		r.Use(s.adminAuthMiddleware)

		r.Post("/admin/tokens", s.handleIssueToken)
		r.Delete("/admin/tokens", s.handleRevokeToken)
		r.Get("/admin/tokens", s.handleListTokens)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Middleware implementations

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminToken := r.Header.Get("X-Admin-Token")
		if adminToken == "" {
			s.writeError(w, http.StatusUnauthorized, "missing admin token")
			return
		}

		// Constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(adminToken), []byte(s.adminToken)) != 1 {
			s.logger.Warn("invalid admin token attempt",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("path", r.URL.Path),
			)
			s.writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}

		// Audit log for admin actions
		s.logger.Info("admin action authenticated",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the access token from the Authorization header, falling
// back to the X-MCP-API-Key header used by older client hooks.
func bearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-MCP-API-Key"))
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for _, check := range s.checks {
		if err := check.Check(ctx); err != nil {
			s.logger.Warn("readiness check failed",
				zap.String("dependency", check.Name),
				zap.Error(err),
			)
			s.writeError(w, http.StatusServiceUnavailable, check.Name+" not ready")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
