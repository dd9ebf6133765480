// Package control exposes the automation controller to a host over HTTP: start, stop and
// configure messages, a status endpoint and a WebSocket notice feed.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/config"
	"github.com/v0xg/gridfill/internal/controller"
	"github.com/v0xg/gridfill/internal/grid"
)

// Automation is the part of the controller the host may drive.
type Automation interface {
	Start(ctx context.Context, hint grid.ElementHint, mode controller.Mode) string
	Stop()
	Configure(patch config.AutomationPatch) error
	Status() controller.Status
	HandleKey(key string) bool
}

// StartRequest is the body of POST /start
type StartRequest struct {
	Hint grid.ElementHint `json:"hint"`
	Mode string           `json:"mode"`
}

// KeyRequest is the body of POST /key
type KeyRequest struct {
	Key string `json:"key"`
}

// Response is the envelope of every non-status reply
type Response struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Handled   *bool  `json:"handled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Server routes host messages to an Automation.
type Server struct {
	auto   Automation
	hub    *Hub
	logger *zap.Logger
	router *mux.Router
}

// NewServer creates a Server. hub may be nil, in which case /events is not served.
func NewServer(auto Automation, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{auto: auto, hub: hub, logger: logger.Named("control"), router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/configure", s.handleConfigure).Methods(http.MethodPost)
	s.router.HandleFunc("/key", s.handleKey).Methods(http.MethodPost)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	if s.hub != nil {
		s.router.Handle("/events", s.hub).Methods(http.MethodGet)
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	mode, err := controller.ParseMode(req.Mode)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	id := s.auto.Start(r.Context(), req.Hint, mode)
	s.logger.Info("start requested", zap.String("session", id), zap.String("mode", string(mode)))
	writeJSON(w, http.StatusOK, Response{Success: true, SessionID: id})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.auto.Stop()
	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var patch config.AutomationPatch
	if err := decode(r, &patch); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.auto.Configure(patch); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	handled := s.auto.HandleKey(req.Key)
	writeJSON(w, http.StatusOK, Response{Success: true, Handled: &handled})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.auto.Status())
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	s.logger.Debug("request rejected", zap.Int("status", code), zap.Error(err))
	writeJSON(w, code, Response{Success: false, Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return fmt.Errorf("malformed JSON at offset %d", syntax.Offset)
		}
		return fmt.Errorf("decoding request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
