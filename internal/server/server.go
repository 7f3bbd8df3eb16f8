// Package server exposes the fabric over HTTP and WebSocket.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ssd-technologies/glyphnet/internal/gip"
	"github.com/ssd-technologies/glyphnet/internal/qkd"
	"github.com/ssd-technologies/glyphnet/internal/ratelimit"
	"github.com/ssd-technologies/glyphnet/internal/router"
	"github.com/ssd-technologies/glyphnet/internal/runtime"
)

// Server is the HTTP/WS ingress for one runtime.
type Server struct {
	rt       *runtime.Runtime
	mux      *http.ServeMux
	wsBudget *ratelimit.Table
	log      zerolog.Logger
}

// New creates a Server with all routes registered.
func New(rt *runtime.Runtime, log zerolog.Logger) *Server {
	s := &Server{
		rt:       rt,
		mux:      http.NewServeMux(),
		wsBudget: ratelimit.NewTable(wsFrameBudgetPerMinute, time.Minute),
		log:      log.With().Str("component", "server").Logger(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/glyphnet/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/glyphnet/tx", s.handleTx)
	s.mux.HandleFunc("POST /api/glyphnet/push", s.handlePush)
	s.mux.HandleFunc("GET /api/glyphnet/thread", s.handleThread)
	s.mux.HandleFunc("GET /api/glyphnet/logs", s.handleLogs)
	s.mux.HandleFunc("/ws/gip", s.handleWS)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.rt.Registry, promhttp.HandlerOpts{}))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"bus": map[string]any{
			"dropped": s.rt.Bus.Dropped(),
		},
	})
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	var req runtime.TxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	agent, err := s.authenticate(r, req.Token)
	if err != nil {
		writeFailure(w, err)
		return
	}
	req.Sender = agent

	res, err := s.rt.HandleTx(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Packet *gip.Packet `json:"packet"`
		Token  string      `json:"token,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Packet == nil {
		writeError(w, http.StatusBadRequest, "invalid packet body")
		return
	}
	if _, err := s.authenticate(r, body.Token); err != nil {
		writeFailure(w, err)
		return
	}

	ok, err := s.rt.HandlePush(r.Context(), body.Packet)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusBadGateway, "no transport accepted the packet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "packet": body.Packet.ID})
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.rt.Thread(r.URL.Query().Get("topic"), r.URL.Query().Get("graph"), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.rt.Telemetry.Recent(limit)})
}

// writeFailure maps runtime errors onto HTTP statuses.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runtime.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, router.ErrForbidden), errors.Is(err, qkd.ErrQKDViolation):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, runtime.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, runtime.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
