package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"bitable-report/internal/middleware"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	CORSOrigins []string
	RateLimiter *middleware.RateLimiter
	Sessions    *middleware.Sessions
}

// NewRouter mounts the handlers behind request IDs, access logging, panic
// recovery, CORS, rate limiting and sessions. Health checks bypass the
// session and rate-limit layers.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(h.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !isWildcard(opts.CORSOrigins),
		MaxAge:           300,
	}))

	r.Get("/healthz", h.health)

	r.Group(func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		r.Use(opts.Sessions.Handler)

		r.Get("/oauth/login", h.login)
		r.Get("/oauth/callback", h.callback)
		r.Post("/oauth/logout", h.logout)

		r.Route("/api", func(r chi.Router) {
			r.Get("/reports/{kind}", h.getReport)
			r.Post("/reports/{kind}/refresh", h.refreshReport)
			r.Get("/customers", h.findCustomer)
		})
	})
	return r
}

func isWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
