package collector

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new chi router with all collector endpoints.
// extra handlers are mounted as-is, e.g. /ws and /metrics.
func NewRouter(handler *Handler, extra map[string]http.Handler) http.Handler {
	r := chi.NewRouter()

	// middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// basic cors
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS", "DELETE"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// health check
	r.Get("/health", handler.Health)

	for path, h := range extra {
		r.Handle(path, h)
	}

	// api v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// run endpoints
		r.Post("/runs", handler.StartRun)
		r.Get("/runs/status", handler.Status)
		r.Get("/runs/last", handler.LastRun)
		r.Delete("/runs/current", handler.StopRun)

		// cursor state endpoints
		r.Get("/state", handler.ListState)
		r.Delete("/state/{channel}", handler.ResetState)
	})

	return r
}
