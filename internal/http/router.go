package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (h *Handlers) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.CORSMiddleware, h.RequestLoggingMiddleware)

	r.Get("/healthz", h.HandleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/tiles/{layer}/{x}/{y}", h.HandleTile)
		r.Head("/tiles/{layer}/{x}/{y}", h.HandleTile)
		r.Post("/centre", h.HandleCentre)
		r.Get("/status", h.HandleStatus)
		r.Get("/sources", h.HandleSources)
		r.Put("/settings", h.HandleSettings)
		r.Post("/config/reload", h.HandleReload)
		r.Post("/cache/clear", h.HandleClearCache)
		r.Get("/events", h.HandleEvents)
	})

	return r
}
