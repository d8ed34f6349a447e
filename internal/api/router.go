package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", s.handleHealth)

		// Ingestion
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Post("/measurements", s.handleAppendMeasurement)

		// Audit trail
		r.Get("/audit", s.handleListAudit)

		// Site endpoints
		r.Route("/sites", func(r chi.Router) {
			r.Get("/", s.handleListSites)
			r.Post("/", s.handleCreateSite)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSite)
				r.Delete("/", s.handleDeleteSite)
				r.Get("/devices", s.handleListDevices)
				r.Get("/points", s.handleListPoints)
				r.Get("/history", s.handleSiteHistory)
				r.Get("/recent", s.handleSiteRecent)
			})
		})

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Post("/", s.handleCreateDevice)
			r.Get("/stale", s.handleStaleDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/state", s.handleGetDeviceState)
			})
		})

		// Point endpoints
		r.Route("/points", func(r chi.Router) {
			r.Post("/", s.handleCreatePoint)
			r.Get("/latest", s.handleListLatest)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPoint)
				r.Get("/latest", s.handlePointLatest)
				r.Get("/history", s.handlePointHistory)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
