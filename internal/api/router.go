package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/promptlane/relay/internal/api/alerts"
	"github.com/promptlane/relay/internal/api/deliveries"
	"github.com/promptlane/relay/internal/api/events"
	"github.com/promptlane/relay/internal/api/middleware"
	"github.com/promptlane/relay/internal/api/rules"
	"github.com/promptlane/relay/internal/api/webhooks"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.PrometheusMiddleware)
	r.Use(middleware.Recoverer)

	eventsHandler := events.NewHandler(s.storage, s.alertEngine)
	rulesHandler := rules.NewHandler(s.storage)
	alertsHandler := alerts.NewHandler(s.storage)
	webhooksHandler := webhooks.NewHandler(s.storage, s.webhookEngine)
	deliveriesHandler := deliveries.NewHandler(s.storage, s.webhookEngine)

	// API v1 routes, all tenant-scoped
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireOwner)

		r.Route("/events", func(r chi.Router) {
			r.Post("/", eventsHandler.Record)
			r.Get("/", eventsHandler.List)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", rulesHandler.List)
			r.Post("/", rulesHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", rulesHandler.GetByID)
				r.Put("/", rulesHandler.Update)
				r.Delete("/", rulesHandler.Delete)
			})
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", alertsHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", alertsHandler.GetByID)
				r.Post("/acknowledge", alertsHandler.Acknowledge)
			})
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/", webhooksHandler.List)
			r.Post("/", webhooksHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", webhooksHandler.GetByID)
				r.Put("/", webhooksHandler.Update)
				r.Delete("/", webhooksHandler.Delete)
				r.Post("/test", webhooksHandler.Test)
			})
		})

		// Domain event fan-out for producers (exports, imports, shares)
		r.Post("/webhook-events", webhooksHandler.Trigger)

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", deliveriesHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", deliveriesHandler.GetByID)
				r.Post("/retry", deliveriesHandler.Retry)
			})
		})

		r.Get("/stats", s.handleStats)
	})

	// Health endpoints (public, no tenancy)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
