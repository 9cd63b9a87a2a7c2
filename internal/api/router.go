package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/panel"
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

	// Status panel UI (embedded via go:embed)
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler("")))
	r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/batteries", func(r chi.Router) {
			r.Get("/", s.handleBatterySnapshot)
			r.Get("/all", s.handleAllBatteries)
			r.Get("/low", s.handleLowBatteries)
			r.Get("/{entityID}", s.handleGetBattery)
		})

		r.Get("/threshold", s.handleGetThreshold)
		r.Put("/threshold", s.handleSetThreshold)
	})

	// WebSocket for real-time updates
	r.Get(s.wsCfg.Path, s.handleWebSocket)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sess := s.session()
	status := map[string]any{
		"status":  "ok",
		"version": s.version,
		"active":  sess != nil,
	}
	if sess != nil {
		all, low := sess.Counts()
		status["tracked"] = all
		status["low"] = low
	}
	writeJSON(w, http.StatusOK, status)
}

// handleBatterySnapshot returns the full snapshot: all tracked
// batteries, the low subset, and the active threshold.
func (s *Server) handleBatterySnapshot(w http.ResponseWriter, _ *http.Request) {
	sess := s.session()
	if sess == nil {
		writeNotConfigured(w)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleAllBatteries returns every tracked battery keyed by entity id.
func (s *Server) handleAllBatteries(w http.ResponseWriter, _ *http.Request) {
	sess := s.session()
	if sess == nil {
		writeNotConfigured(w)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot().AllBatteries)
}

// handleLowBatteries returns only the batteries at or below threshold.
func (s *Server) handleLowBatteries(w http.ResponseWriter, _ *http.Request) {
	sess := s.session()
	if sess == nil {
		writeNotConfigured(w)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot().LowBatteries)
}

// handleGetBattery returns a single tracked battery record.
func (s *Server) handleGetBattery(w http.ResponseWriter, r *http.Request) {
	sess := s.session()
	if sess == nil {
		writeNotConfigured(w)
		return
	}

	entityID := chi.URLParam(r, "entityID")
	rec, ok := sess.Get(entityID)
	if !ok {
		writeNotFound(w, "entity is not tracked: "+entityID)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetThreshold returns the active low-battery threshold.
func (s *Server) handleGetThreshold(w http.ResponseWriter, _ *http.Request) {
	sess := s.session()
	if sess == nil {
		writeNotConfigured(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"threshold": sess.Threshold()})
}

// thresholdRequest is the body for PUT /api/v1/threshold.
type thresholdRequest struct {
	Threshold int `json:"threshold"`
}

// handleSetThreshold updates the low-battery threshold and re-evaluates
// every tracked entity against it.
func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	sess := s.session()
	if sess == nil {
		writeNotConfigured(w)
		return
	}

	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Threshold < 0 || req.Threshold > 100 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "threshold must be between 0 and 100")
		return
	}

	sess.SetThreshold(req.Threshold)
	s.monitor.Reevaluate()

	s.logger.Info("threshold updated", "threshold", req.Threshold)
	writeJSON(w, http.StatusOK, map[string]int{"threshold": req.Threshold})
}
