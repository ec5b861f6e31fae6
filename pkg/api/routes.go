package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	if s.cfg.RateLimit.Enabled {
		r.Use(s.rateLimitMiddleware(s.cfg.RateLimit.RequestsPerMinute))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Test catalog (read only; seeded from the manifest).
		r.Route("/files", func(r chi.Router) {
			r.Get("/", s.handleListFiles)
			r.Get("/{id}/cases", s.handleListFileCases)
		})

		// Schedule management.
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)
			r.Get("/{id}", s.handleGetSchedule)
			r.Put("/{id}", s.handleUpdateSchedule)
			r.Delete("/{id}", s.handleDeleteSchedule)
			r.Post("/{id}/toggle", s.handleToggleSchedule)
		})

		// Runs and their results.
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleTriggerRun)
			r.Get("/{id}", s.handleGetRun)
			r.Post("/{id}/stop", s.handleStopRun)
			r.Get("/{id}/results", s.handleListRunResults)
		})

		// Scanner status.
		r.Get("/scheduler/status", s.handleSchedulerStatus)
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
