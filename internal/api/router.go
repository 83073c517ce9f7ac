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

	r.Route("/api", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/users/me", func(r chi.Router) {
				r.Get("/", s.handleGetMe)
				r.Put("/", s.handleUpdateMe)
			})

			r.Route("/readings", func(r chi.Router) {
				r.Get("/", s.handleListReadings)
				r.Get("/ws", s.handleReadingsWS)
			})

			r.Route("/scan", func(r chi.Router) {
				r.Post("/start", s.handleScanStart)
				r.Post("/stop", s.handleScanStop)
				r.Get("/devices", s.handleScanDevices)
			})

			r.Route("/device", func(r chi.Router) {
				r.Post("/connect", s.handleDeviceConnect)
				r.Post("/disconnect", s.handleDeviceDisconnect)
			})

			r.Get("/session/status", s.handleSessionStatus)
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
