package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Writes: burst of 50, then 20 per second
	writeLimiter := NewWriteRateLimiter(50, 50*time.Millisecond)

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(CatalogMiddleware(h.catalog))

			r.Get("/stats", h.GlobalStats)
			r.Get("/sets", h.ListSets)
			r.Get("/sets/{set}/stats", h.SetStats)
			r.Get("/sets/{set}/cards", h.ListSetCards)
			r.Get("/cards/{id}", h.GetCard)

			r.With(AuthMiddleware(h.apiKey), writeLimiter.Middleware).Put("/cards/{id}", h.UpdateCard)
		})

		r.With(AuthMiddleware(h.apiKey)).Get("/backups/latest", h.LatestBackup)
	})

	return r
}
