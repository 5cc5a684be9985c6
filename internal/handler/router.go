package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"noria-api/internal/metrics"
	"noria-api/internal/util"
)

// RouteRegistrar is implemented by every resource handler.
type RouteRegistrar interface {
	RegisterRoutes(router chi.Router)
}

// HealthChecker reports per-dependency failures; an empty map means ready.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

type RouterConfig struct {
	Environment        string
	CORSAllowedOrigins []string
	// MetricsPath is left unmounted when empty.
	MetricsPath string
	Metrics     *metrics.Metrics
	Health      HealthChecker
	Logger      *zap.Logger
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg RouterConfig, handlers ...RouteRegistrar) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = util.Get()
	}
	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware(cfg.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		responder{logger: logger}.respondWithJSON(w, http.StatusOK, map[string]string{
			"status":      "ok",
			"service":     "noria-api",
			"environment": cfg.Environment,
		})
	})

	router.Get("/ready", readyHandler(cfg.Health, logger))

	if cfg.MetricsPath != "" && cfg.Metrics != nil {
		router.Handle(cfg.MetricsPath, cfg.Metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		for _, h := range handlers {
			h.RegisterRoutes(r)
		}
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"endpoint not found"}`))
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"success":false,"error":"method not allowed"}`))
	})

	return router
}

func readyHandler(health HealthChecker, logger *zap.Logger) http.HandlerFunc {
	rsp := responder{logger: logger}
	return func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			rsp.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"status": "ready"}, ""))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		failures := health.HealthCheck(ctx)
		if len(failures) == 0 {
			rsp.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"status": "ready"}, ""))
			return
		}

		names := make([]string, 0, len(failures))
		checks := make(map[string]string, len(failures))
		for name, err := range failures {
			names = append(names, name)
			checks[name] = err.Error()
		}
		sort.Strings(names)
		logger.Warn("Readiness check failed", zap.Strings("dependencies", names))

		rsp.respondWithJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Data:    checks,
			Error:   "dependencies unavailable",
		})
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// MetricsMiddleware counts requests by method and status.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				m.HTTPRequest(r.Method, status, time.Since(start).Seconds())
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
