package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/positionledger/posengine/internal/metrics"
)

// NewRouter assembles the full HTTP surface: health check, Prometheus
// metrics, the query surface, config CRUD, and the live snapshot feed.
func NewRouter(handlers *Handlers, hub *Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"posengine"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", hub.HandleWS)
		r.Post("/trades", handlers.IngestTrades)

		r.Route("/positions/{positionKey}", func(r chi.Router) {
			r.Get("/snapshot", handlers.FindSnapshot)
			r.Get("/snapshots", handlers.FindSnapshotsForPosition)
			r.Get("/history", handlers.FindSnapshotHistory)
			r.Get("/price", handlers.FindPrice)
			r.Get("/prices", handlers.FindPricesForSnapshot)
		})

		r.Route("/configs", func(r chi.Router) {
			r.Get("/", handlers.FindAllConfigs)
			r.Post("/", handlers.CreateConfig)
			r.Get("/active", handlers.FindActiveConfigs)
			r.Get("/{configID}", handlers.FindConfigByID)
			r.Put("/{configID}", handlers.UpdateConfig)
			r.Delete("/{configID}", handlers.DeactivateConfig)
		})
	})

	return r
}
