package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/discovery"
	"github.com/IshaanNene/templatescout/internal/engine"
	"github.com/IshaanNene/templatescout/internal/events"
	"github.com/IshaanNene/templatescout/internal/registry"
	"github.com/IshaanNene/templatescout/internal/store"
	"github.com/IshaanNene/templatescout/internal/types"
)

// Planner builds the work list for a new session.
type Planner interface {
	Plan(ctx context.Context, typ types.SessionType, urls []string) ([]types.WorkItem, error)
}

// Deps are the services the admin API controls and reads.
type Deps struct {
	Registry *registry.Registry
	Planner  Planner
	Store    store.StateStore
	Logs     *events.LogRing
	Bus      *events.Bus
}

// Server provides the admin REST API for the orchestrator.
type Server struct {
	mux    *http.ServeMux
	port   int
	deps   Deps
	logger *slog.Logger
}

// NewServer creates a new API server.
func NewServer(port int, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		port:   port,
		deps:   deps,
		logger: logger.With("component", "api_server"),
	}

	s.registerRoutes()
	return s
}

// Handler returns the API's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve runs the API server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("API server starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Orchestrator control
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/pause", s.handlePause)
	s.mux.HandleFunc("POST /api/resume", s.handleResume)
	s.mux.HandleFunc("POST /api/resume-timeout", s.handleResumeTimeout)
	s.mux.HandleFunc("POST /api/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/items/{id}/skip", s.handleSkip)

	// Sessions
	s.mux.HandleFunc("POST /api/sessions", s.handleStartSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/resumable", s.handleResumable)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/resume", s.handleResumeSession)

	// Runtime configuration
	s.mux.HandleFunc("GET /api/config", s.handleGetConfig)
	s.mux.HandleFunc("GET /api/config/pending", s.handleGetConfig)
	s.mux.HandleFunc("PUT /api/config/pending", s.handleUpdateConfig)
	s.mux.HandleFunc("DELETE /api/config/pending", s.handleCancelConfig)

	// Logs and live events
	s.mux.HandleFunc("GET /api/logs", s.handleLogs)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": config.Version,
		"queues":  s.deps.Registry.Queues(),
	})
}

// engineFor resolves the queue named by the request, creating its engine
// on first use. Only configuration writes may create a queue.
func (s *Server) engineFor(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	e, err := s.deps.Registry.Engine(r.URL.Query().Get("queue"))
	if err != nil {
		s.errorResponse(w, err)
		return nil, false
	}
	return e, true
}

// existingEngine resolves the queue named by the request and fails with
// 404 when it has no engine yet.
func (s *Server) existingEngine(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	e, err := s.deps.Registry.Lookup(r.URL.Query().Get("queue"))
	if err != nil {
		s.errorResponse(w, err)
		return nil, false
	}
	return e, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e, ok := s.existingEngine(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, e.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "paused", func(e *engine.Engine) error { return e.Pause(r.Context()) })
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "running", func(e *engine.Engine) error { return e.Resume(r.Context()) })
}

func (s *Server) handleResumeTimeout(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "running", func(e *engine.Engine) error { return e.ResumeFromTimeoutPause(r.Context()) })
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "stopping", func(e *engine.Engine) error { return e.Stop() })
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := s.existingEngine(w, r)
	if !ok {
		return
	}
	if err := e.RequestSkip(id); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "skip_requested", "item_id": id})
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, status string, fn func(*engine.Engine) error) {
	e, ok := s.existingEngine(w, r)
	if !ok {
		return
	}
	if err := fn(e); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": status})
}

type startRequest struct {
	Type  types.SessionType `json:"type"`
	URLs  []string          `json:"urls"`
	Queue string            `json:"queue"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if body.Type == "" {
		body.Type = types.SessionURLs
		if len(body.URLs) == 0 {
			body.Type = types.SessionFull
		}
	}
	if !body.Type.Valid() {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown session type %q", body.Type)})
		return
	}
	if body.Queue == "" {
		body.Queue = r.URL.Query().Get("queue")
	}

	if e, ok := s.deps.Registry.Get(body.Queue); ok && e.Active() {
		s.errorResponse(w, types.ErrSessionActive)
		return
	}

	items, err := s.deps.Planner.Plan(r.Context(), body.Type, body.URLs)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	sess, err := s.deps.Registry.Start(r.Context(), body.Queue, body.Type, items)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, sess)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Registry.Resume(r.Context(), r.URL.Query().Get("queue"), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	sessions, err := s.deps.Store.ListSessions(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sessions)
}

func (s *Server) handleResumable(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Store.LatestResumable(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.deps.Store.GetSession(r.Context(), id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	batches, err := s.deps.Store.Batches(r.Context(), id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	resp := map[string]any{"session": sess, "batches": batches}
	if r.URL.Query().Get("items") == "true" {
		items, err := s.deps.Store.Items(r.Context(), id)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		resp["items"] = items
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	e, ok := s.existingEngine(w, r)
	if !ok {
		return
	}
	current, pending := e.Config()
	s.jsonResponse(w, http.StatusOK, map[string]any{"current": current, "pending": pending})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch config.PerformancePatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid config: " + err.Error()})
		return
	}
	e, ok := s.engineFor(w, r)
	if !ok {
		return
	}
	next, err := e.UpdatePendingConfig(patch)
	if err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	status := "pending"
	if !e.Active() {
		status = "applied"
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"status": status, "config": next})
}

func (s *Server) handleCancelConfig(w http.ResponseWriter, r *http.Request) {
	e, ok := s.existingEngine(w, r)
	if !ok {
		return
	}
	if !e.CancelPendingConfig() {
		s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": "no pending config"})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		s.jsonResponse(w, http.StatusOK, []events.LogLine{})
		return
	}
	var lines []events.LogLine
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC 3339"})
			return
		}
		lines = s.deps.Logs.ReadSince(t)
	} else {
		lines = s.deps.Logs.Tail(queryInt(r, "limit", 200))
	}
	if lines == nil {
		lines = []events.LogLine{}
	}
	s.jsonResponse(w, http.StatusOK, lines)
}

// handleEvents streams bus events as server-sent events until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "event bus not configured"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	ch, cancel := s.deps.Bus.Subscribe(queryInt(r, "buffer", 256))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("event encode failed", "type", ev.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrSessionActive),
		errors.Is(err, types.ErrNoSession),
		errors.Is(err, types.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, types.ErrSessionNotFound),
		errors.Is(err, types.ErrItemNotFound),
		errors.Is(err, registry.ErrUnknownQueue):
		return http.StatusNotFound
	case errors.Is(err, discovery.ErrNoWork):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.jsonResponse(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
