package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robertarktes/campus-marketplace/internal/media"
)

type RouterOptions struct {
	AllowedOrigins []string
	// UploadDir is served under /uploads/ when set.
	UploadDir       string
	UserRate        int
	IPRate          int
	RateLimitPeriod time.Duration
}

func SetupRouter(h *Handlers, opts RouterOptions) *chi.Mux {
	if opts.RateLimitPeriod <= 0 {
		opts.RateLimitPeriod = time.Minute
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(h.logger))
	r.Use(TracingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader},
		MaxAge:         300,
	}))

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	if opts.UploadDir != "" {
		r.Handle(media.URLPrefix+"*", http.StripPrefix(media.URLPrefix, http.FileServer(http.Dir(opts.UploadDir))))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Use(h.RateLimit(opts.UserRate, opts.IPRate, opts.RateLimitPeriod))

		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Get("/items", h.ListItems)
		r.Get("/items/{id}", h.GetItem)
		r.Get("/items/{id}/booking", h.ActiveBooking)
		r.Get("/items/{id}/comments", h.ListComments)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/me", h.Me)
			r.Put("/me", h.UpdateMe)
			r.Get("/me/items", h.MyItems)
			r.Get("/me/purchases", h.MyPurchases)

			r.Post("/items", h.CreateItem)
			r.Put("/items/{id}", h.UpdateItem)
			r.Delete("/items/{id}", h.DeleteItem)
			r.Post("/items/{id}/comments", h.PostComment)
			r.Post("/uploads", h.Upload)

			r.Group(func(r chi.Router) {
				r.Use(h.Idempotent)

				r.Post("/items/{id}/reserve", h.Reserve)
				r.Post("/bookings/{id}/confirm", h.Confirm)
				r.Post("/bookings/{id}/cancel", h.Cancel)
			})
		})
	})

	return r
}
