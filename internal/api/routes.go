package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/send", h.Send)
		r.Post("/send/template", h.SendTemplate)
		r.Post("/send/template/bulk", h.SendTemplateBulk)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", h.GetQueueStats)
			r.Get("/items", h.ListQueueItems)
			r.Get("/items/search", h.SearchQueueItems)
			r.Route("/items/{id}", func(r chi.Router) {
				r.Get("/", h.GetQueueItem)
				r.Post("/cancel", h.CancelQueueItem)
				r.Post("/retry", h.RetryQueueItem)
				r.Put("/priority", h.SetQueueItemPriority)
			})
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", h.QueryLogs)
			r.Get("/export", h.ExportLogs)
		})

		r.Route("/suppression", func(r chi.Router) {
			r.Get("/", h.ListSuppression)
			r.Post("/", h.AddSuppression)
			r.Get("/{email}", h.GetSuppression)
			r.Delete("/{email}", h.RemoveSuppression)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Get("/{slug}", h.GetTemplate)
			r.Put("/{slug}", h.PutTemplate)
			r.Delete("/{slug}", h.DeleteTemplate)
		})

		r.Get("/stats/delivery", h.GetDeliveryStats)
		r.Post("/transport/test", h.TestTransport)
	})

	return r
}
