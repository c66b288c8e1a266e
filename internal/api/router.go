package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	// Presence and command REST surface
	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.handleListDevices)

		r.Route("/device/{id}", func(r chi.Router) {
			r.Get("/status", s.handleDeviceStatus)
			r.Post("/command", s.handleDeviceCommand)
		})
	})

	// Relay endpoints: controllers on /esp32, supervisory clients on /client.
	// Auth is per-connection via query parameters, validated in the handlers.
	r.Get("/esp32", s.handleDeviceSocket)
	r.Get("/client", s.handleClientSocket)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      s.version,
		"devicesCount": s.registry.SessionCount(),
		"timestamp":    time.Now().UnixMilli(),
	})
}
