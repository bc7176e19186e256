// internal/api/routes/routes.go
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fawad-mazhar/syros/internal/api/handlers"
)

func SetupRouter(runHandler *handlers.RunHandler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	})

	statusHandler := handlers.NewStatusHandler()

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", runHandler.SubmitRun)
			r.Get("/{id}/progress", runHandler.GetProgress)
			r.Post("/{id}/stop", runHandler.StopRun)
			r.Get("/{id}/results", runHandler.GetResults)
		})
	})

	r.Get("/health", statusHandler.HealthCheck)

	return r
}
