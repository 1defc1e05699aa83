package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Get("/topics", s.handleDeviceTopics)
				r.Get("/telemetry", s.handleDeviceTelemetry)
				r.Get("/hardware", s.handleDeviceHardware)
				r.Post("/requests", s.handleIssueRequest)
			})
		})

		// Operator trigger to resume reconnection after the bounded
		// retry budget is exhausted.
		r.Post("/system/reconnect", s.handleReconnect)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports component health: broker connectivity (including
// a stalled reconnect loop) and the pending store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	broker := map[string]any{"connected": false, "reconnect_exhausted": false}
	if s.broker != nil {
		broker["connected"] = s.broker.IsConnected()
		broker["reconnect_exhausted"] = s.broker.ReconnectExhausted()
	}

	pendingStatus := "ok"
	if s.pending != nil {
		if err := s.pending.HealthCheck(r.Context()); err != nil {
			pendingStatus = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"broker":  broker,
		"pending": pendingStatus,
	})
}

// handleReconnect resets the broker's reconnect budget and retries.
func (s *Server) handleReconnect(w http.ResponseWriter, _ *http.Request) {
	if s.broker == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "broker not configured")
		return
	}

	if err := s.broker.Reconnect(); err != nil {
		s.logger.Error("operator reconnect failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeInternal, "reconnect failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "reconnected"})
}
