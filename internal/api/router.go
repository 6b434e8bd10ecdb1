package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter mounts every endpoint under /api/v1. Middleware order matters:
// the request ID must exist before the access log and panic handler read it.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(
		withRequestID,
		s.accessLog,
		s.recoverPanics,
		s.cors,
		middleware.RequestSize(maxRequestBodySize),
		middleware.CleanPath,
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "the API is read-only")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/events", s.handleListEvents)
		r.Get("/ws", s.handleWebSocket)

		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{address}", s.handleGetDevice)

		r.Get("/sensors", s.handleListSensors)
		r.Get("/sensors/{id}/readings", s.handleListReadings)
	})

	return r
}
