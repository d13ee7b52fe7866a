package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hindsightlab/hindsight/learning-plane/internal/api/handlers"
	"github.com/hindsightlab/hindsight/learning-plane/internal/api/middleware"
	"github.com/hindsightlab/hindsight/learning-plane/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Outcome ingestion
		r.Route("/outcomes", func(r chi.Router) {
			r.Post("/", h.DispatchOutcome)
		})

		// Tracked task execution
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/run", h.RunTask)
		})

		// Routing preferences
		r.Route("/routing", func(r chi.Router) {
			r.Get("/", h.ListRoutingAdjustments)
			r.Get("/{strategy}/boost", h.GetRoutingBoost)
		})

		// Predictions (before/verify pair)
		r.Route("/predictions", func(r chi.Router) {
			r.Post("/", h.CreatePrediction)
			r.Post("/{predictionId}/verify", h.VerifyPrediction)
		})

		// Emergent goals
		r.Route("/goals", func(r chi.Router) {
			r.Get("/", h.ListGoals)
		})

		// Progress & audit
		r.Get("/progress", h.GetProgress)
		r.Get("/audit", h.GetAudit)

		// Operator cold start
		r.Post("/reset", h.Reset)
	})

	return r
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "hindsight-learning-plane",
		})
	}
}
