package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/temmyjay001/claimsflow-webhooks/internal/auth"
	"github.com/temmyjay001/claimsflow-webhooks/internal/metrics"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Use(s.contentTypeMiddleware)

	r.Get("/health", s.healthHandler)
	r.Get("/health/db", s.healthDBHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		read := s.authMiddleware.RequireScopes(auth.ScopeWebhooksRead)
		manage := s.authMiddleware.RequireScopes(auth.ScopeWebhooksManage)

		// Event intake
		r.With(s.authMiddleware.RequireScopes(auth.ScopeEventsPublish)).Post("/events", s.eventHandlers.PublishEventHandler)

		// Webhook management
		r.Route("/webhooks", func(r chi.Router) {
			r.With(manage).Post("/", s.webhookHandlers.CreateWebhookHandler)
			r.With(read).Get("/", s.webhookHandlers.ListWebhooksHandler)

			r.Route("/{webhookId}", func(r chi.Router) {
				r.With(read).Get("/", s.webhookHandlers.GetWebhookHandler)
				r.With(manage).Patch("/", s.webhookHandlers.UpdateWebhookHandler)
				r.With(manage).Delete("/", s.webhookHandlers.DeleteWebhookHandler)
				r.With(read).Get("/stats", s.webhookHandlers.WebhookStatsHandler)
				r.With(manage).Post("/test", s.webhookHandlers.TestWebhookHandler)
				r.With(read).Get("/deliveries", s.webhookHandlers.ListWebhookDeliveriesHandler)
			})
		})

		// Delivery history
		r.With(read).Get("/deliveries/{deliveryId}", s.webhookHandlers.GetDeliveryHandler)
		r.With(manage).Post("/deliveries/{deliveryId}/redeliver", s.webhookHandlers.RedeliverHandler)
	})

	return otelhttp.NewHandler(r, "claimsflow-webhooks")
}
