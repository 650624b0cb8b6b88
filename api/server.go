/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RealIP:        Client address from proxy headers
  2. Recoverer:     Panic recovery (500 instead of crash)
  3. Correlation:   X-Correlation-ID in context and logs
  4. Metrics:       Request count/latency by route pattern
  5. RequestLogger: One slog line per request
  6. CORS:          Cross-origin requests from the mini-program web view

  /api routes add Authenticate then the rate limiter; /api/admin swaps
  Authenticate for RequireAdmin.

ROUTE GROUPS:
  /api/points/*      Balance, records, statistics
  /api/signin/*      Daily sign-in
  /api/check/*       Charged AI checks
  /api/models        Model pricing
  /api/carousels/*   Home page banners
  /api/admin/*       Adjustments and banner editing
  /healthz           Liveness + storage ping
  /metrics           Prometheus

SEE ALSO:
  - handlers.go: Handler implementations
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
	"github.com/wordcheck/points-engine/logging"
	"github.com/wordcheck/points-engine/metrics"
)

// RouterOptions carries the optional parts of the router.
type RouterOptions struct {
	AllowedOrigins []string
	AdminToken     string
	Limiter        *RateLimiter       // nil disables rate limiting
	Metrics        *metrics.Collector // nil disables /metrics
	// Ping checks storage for /healthz; nil reports healthy.
	Ping func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(RequestLogger(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", UserIDHeader, AdminTokenHeader, logging.CorrelationHeader},
		ExposedHeaders: []string{logging.CorrelationHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthz(opts.Ping))
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(opts.AdminToken))
			r.Post("/adjustments", h.CreateAdjustment)
			r.Get("/carousels", h.ListAllCarousels)
			r.Post("/carousels", h.SaveCarousel)
			r.Put("/carousels/{id}", h.SaveCarousel)
		})

		r.Group(func(r chi.Router) {
			r.Use(Authenticate)
			if opts.Limiter != nil {
				r.Use(opts.Limiter.Handler)
			}

			// Points routes
			r.Route("/points", func(r chi.Router) {
				r.Get("/", h.GetAccount)
				r.Get("/records", h.ListRecords)
				r.Get("/statistics", h.GetStatistics)
			})

			// Sign-in routes
			r.Post("/signin", h.SignIn)
			r.Get("/signin/status", h.GetSignInStatus)

			// AI check routes
			r.Get("/models", h.ListModels)
			r.Route("/check", func(r chi.Router) {
				r.Post("/", h.Check)
				r.Get("/quote", h.QuoteCheck)
				r.Get("/history", h.ListCheckHistory)
				r.Get("/history/{id}", h.GetCheckHistory)
				r.Delete("/history/{id}", h.DeleteCheckHistory)
			})

			// Carousel routes
			r.Route("/carousels", func(r chi.Router) {
				r.Get("/", h.ListCarousels)
				r.Get("/{id}", h.GetCarousel)
				r.Post("/{id}/view", h.RecordCarouselView)
				r.Post("/{id}/click", h.RecordCarouselClick)
			})
		})
	})

	return r
}

func healthz(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
