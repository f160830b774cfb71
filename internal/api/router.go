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
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.apiKeyMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/state", s.handleGetDeviceState)
					r.Get("/presets", s.handleListPresets)

					r.Post("/outlets", s.handleTurnOnOutlet)
					r.Post("/off", s.handleTurnOff)
					r.Post("/pause", s.handlePause)
					r.Put("/temperature", s.handleSetTemperature)
					r.Put("/flow", s.handleSetFlow)

					r.Post("/presets/{preset}/start", s.handleStartPreset)
					r.Post("/presets/{preset}/stop", s.handleStopPreset)
					r.Post("/warmup/start", s.handleStartWarmup)
					r.Post("/warmup/stop", s.handleStopWarmup)
				})
			})
		})
	})

	r.With(s.apiKeyMiddleware).Get(s.wsCfg.Path, s.handleWebSocket)

	return r
}

// handleHealth returns the server health status and the realtime channel state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"realtime":  s.ctrl.RealtimeState().String(),
		"devices":   s.ctrl.Store().Count(),
		"ws_client": s.hub.ClientCount(),
	})
}
