package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/btbridge/internal/bridges/rfcomm"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/stream", s.handleStream)
	})

	return r
}

// handleHealth reports the same health message the bridge publishes to
// MQTT. Degraded answers 503 so load balancers and health checkers can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.bridge.State()
	brokerConnected := s.mqtt == nil || s.mqtt.IsConnected()
	status, reason := rfcomm.DetermineStatus(brokerConnected, state)

	msg := rfcomm.NewHealthMessage(s.bridgeID, s.version, status,
		s.bridge.Endpoint(), state, s.bridge.Stats(), s.startTime)
	msg.Reason = reason

	code := http.StatusOK
	if status != rfcomm.HealthHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, msg)
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Device   string       `json:"device"`
	State    string       `json:"state"`
	Counters rfcomm.Stats `json:"counters"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Device:   s.bridge.Endpoint().String(),
		State:    s.bridge.State().String(),
		Counters: s.bridge.Stats(),
	})
}
