/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Identity:   X-Actor-ID / X-Actor-Role on every /api route

ROUTE GROUPS:
  /healthz              Liveness, no identity required
  /metrics              Prometheus scrape endpoint (optional)
  /api/cases/*          Case management, payments, status workflow
  /api/expected         Calculator preview

AUTHORIZATION:
  Role checks sit on the routes (RequireRole). Employees and leaders only
  see their own cases; handlers return 404 for anything else.

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Identity and role middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/incapacity-engine/incapacity"
	"go.uber.org/zap"
)

// RouterOptions carries the optional parts of the router.
type RouterOptions struct {
	AllowedOrigins []string

	// MetricsPath and MetricsHandler mount a scrape endpoint when both are set.
	MetricsPath    string
	MetricsHandler http.Handler

	// Health, when set, backs /healthz with a storage ping.
	Health func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(req.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.MetricsPath != "" && opts.MetricsHandler != nil {
		r.Handle(opts.MetricsPath, opts.MetricsHandler)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Identity)

		r.Get("/expected", h.GetExpected)

		r.Route("/cases", func(r chi.Router) {
			r.Get("/", h.ListCases)
			r.Post("/", h.CreateCase)
			r.Get("/stats", h.GetStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCase)
				r.With(RequireRole(isAdmin)).Delete("/", h.DeleteCase)

				r.Get("/payments", h.ListPayments)
				r.With(RequireRole(incapacity.Role.CanRecordPayments)).Post("/payments", h.RecordPayment)
				r.Get("/reconciliation", h.GetReconciliation)

				r.With(RequireRole(incapacity.Role.CanChangeStatus)).Post("/status", h.ChangeStatus)
				r.Get("/history", h.GetHistory)
			})
		})
	})

	return r
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
