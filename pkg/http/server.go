package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"copilot-server/pkg/config"
	"copilot-server/pkg/copilot"
	"copilot-server/pkg/errors"
	"copilot-server/pkg/metrics"
)

// Server exposes the engine's command surface, health probes, the metrics
// endpoint, and the event WebSocket.
type Server struct {
	logger     *logrus.Logger
	config     config.HTTPConfig
	engine     *copilot.Engine
	hub        *EventHub
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time
}

// NewServer wires the full route table. The hub may be nil when the
// WebSocket surface is not wanted.
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, engine *copilot.Engine, hub *EventHub) *Server {
	s := &Server{
		logger:    logger,
		config:    cfg,
		engine:    engine,
		hub:       hub,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	s.mux = mux

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	if cfg.EnableMetrics {
		mux.Handle("/metrics", metrics.Handler())
	}

	mux.HandleFunc("/api/initialize", s.handleInitialize)
	mux.HandleFunc("/api/call/start", s.handleStartCall)
	mux.HandleFunc("/api/call/end", s.handleEndCall)
	mux.HandleFunc("/api/transcript", s.handleTranscript)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/cuecards/dismiss", s.handleDismissCueCard)
	mux.HandleFunc("/api/cuecards/pin", s.handlePinCueCard)
	mux.HandleFunc("/api/cuecards/feedback", s.handleCueCardFeedback)
	mux.HandleFunc("/api/nudges/dismiss", s.handleDismissNudge)
	mux.HandleFunc("/api/bookmarks", s.handleCreateBookmark)

	if hub != nil {
		mux.HandleFunc("/ws/events", hub.ServeHTTP)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the route table for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the listener in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.config.ListenAddr).Info("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.engine.GetState()
	resp := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"session_active": state.Session != nil,
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.ConnectedClients()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		APIKey string `json:"api_key"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.Initialize(req.APIKey); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "initialized"})
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		RecordingID string `json:"recording_id"`
		SessionID   string `json:"session_id"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	session, err := s.engine.StartCall(req.RecordingID, req.SessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	summary, final, err := s.engine.EndCall(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": summary,
		"metrics": final,
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var raw copilot.RawSegment
	if !s.decodeBody(w, r, &raw) {
		return
	}
	if err := s.engine.SendTranscript(raw); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.engine.GetState().Config)
	case http.MethodPatch, http.MethodPost:
		var patch copilot.ConfigPatch
		if !s.decodeBody(w, r, &patch) {
			return
		}
		s.writeJSON(w, http.StatusOK, s.engine.UpdateConfig(patch))
	default:
		s.methodNotAllowed(w)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.GetState())
}

func (s *Server) handleDismissCueCard(w http.ResponseWriter, r *http.Request) {
	s.cueCardStatusHandler(w, r, s.engine.DismissCueCard)
}

func (s *Server) handlePinCueCard(w http.ResponseWriter, r *http.Request) {
	s.cueCardStatusHandler(w, r, s.engine.PinCueCard)
}

func (s *Server) cueCardStatusHandler(w http.ResponseWriter, r *http.Request, apply func(string) error) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		TriggerID string `json:"trigger_id"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := apply(req.TriggerID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCueCardFeedback(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		TriggerID string `json:"trigger_id"`
		Verdict   string `json:"verdict"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.CueCardFeedback(req.TriggerID, req.Verdict); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDismissNudge(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		NudgeID string `json:"nudge_id"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.DismissNudge(req.NudgeID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateBookmark(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		RecordingID string    `json:"recording_id"`
		Timestamp   time.Time `json:"timestamp"`
		Category    string    `json:"category"`
		Note        string    `json:"note"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	bm, err := s.engine.CreateBookmark(req.RecordingID, req.Timestamp, req.Category, req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, bm)
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.methodNotAllowed(w)
		return false
	}
	return true
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeError maps domain sentinels to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrNoActiveSession),
		errors.Is(err, errors.ErrComponentDisabled),
		errors.Is(err, errors.ErrLLMNotConfigured):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrCueCardNotFound),
		errors.Is(err, errors.ErrNudgeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidInput),
		errors.Is(err, errors.ErrUnknownChannel),
		errors.Is(err, errors.ErrInvalidSegment):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
