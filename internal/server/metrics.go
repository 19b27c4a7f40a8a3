package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	usageReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_reports_total",
			Help: "Total number of usage report submissions by outcome",
		},
		[]string{"status"},
	)

	relayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_duration_seconds",
			Help:    "Time spent relaying a usage record to the backend",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		},
	)

	tokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokens_issued_total",
			Help: "Total number of access tokens issued",
		},
	)

	tokensRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokens_revoked_total",
			Help: "Total number of access tokens revoked",
		},
	)

	dependencyUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dependency_up",
			Help: "Status of dependencies (1 = up, 0 = down)",
		},
		[]string{"service"},
	)
)

// metricsMiddleware returns a middleware that records HTTP metrics
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(ww.Status())

		// Low cardinality path: the route pattern, not the raw URL
		routePath := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				routePath = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, routePath, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, routePath, status).Observe(duration)
	})
}

// registerMetrics registers the /metrics endpoint
func (s *Server) registerMetrics() {
	s.router.Handle("/metrics", promhttp.Handler())
}

// StartDependencyMetrics refreshes the dependency_up gauge until ctx is done.
func (s *Server) StartDependencyMetrics(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.updateDependencyMetrics(ctx)
			}
		}
	}()
}

func (s *Server) updateDependencyMetrics(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, check := range s.checks {
		up := 1.0
		if err := check.Check(checkCtx); err != nil {
			up = 0
			s.logger.Warn("dependency check failed",
				zap.String("dependency", check.Name),
				zap.Error(err),
			)
		}
		dependencyUp.WithLabelValues(check.Name).Set(up)
	}
}
