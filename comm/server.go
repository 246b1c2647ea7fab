package comm

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/cellpilot/cellpilot"
	"github.com/cellpilot/cellpilot/manager"
	"github.com/cellpilot/cellpilot/mode"
)

// Server exposes the notebook comm endpoint and the HTTP control API used by
// the CLI: session listing and inspection, stop, resume, prompt submission
// and mode selection.
type Server struct {
	manager  *manager.Manager
	modes    *mode.Controller
	bridge   *Bridge
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer wires the control API over m, modes and b.
func NewServer(m *manager.Manager, modes *mode.Controller, b *Bridge, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager: m,
		modes:   modes,
		bridge:  b,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// The server binds to localhost; the notebook frontend connects
			// from a file or proxied origin, so origin checks stay open.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/comm", s.handleComm)
	mux.HandleFunc("POST /api/submit", s.handleSubmit)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionStatus)
	mux.HandleFunc("POST /api/sessions/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDestroy)
	mux.HandleFunc("GET /api/requests/{id}", s.handleRequestStatus)
	mux.HandleFunc("GET /api/mode", s.handleGetMode)
	mux.HandleFunc("POST /api/mode", s.handleSetMode)
	return mux
}

func (s *Server) handleComm(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("comm upgrade failed", "error", err)
		return
	}
	// Attach blocks for the lifetime of the connection.
	s.bridge.Attach(conn)
}

type submitRequest struct {
	Text string `json:"text"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := s.manager.Submit(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, cellpilot.ErrNoRoute) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tracked, _ := s.manager.Request(id)
	writeJSON(w, http.StatusAccepted, submitResponse{RequestID: id, SessionID: tracked.SessionID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.ListSessions())
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Status(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Stop(r.Context(), r.PathValue("id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Resume(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, cellpilot.ErrResumeUnsupported), errors.Is(err, cellpilot.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeSessionError(w, err)
	}
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Destroy(r.Context(), r.PathValue("id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	req, err := s.manager.Request(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type modeResponse struct {
	Current string                 `json:"current"`
	Modes   []cellpilot.ModeConfig `json:"modes"`
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modeResponse{
		Current: s.modes.Current().Name,
		Modes:   s.modes.List(),
	})
}

type setModeRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.modes.Set(req.Name); err != nil {
		if errors.Is(err, cellpilot.ErrUnknownMode) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, cellpilot.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
