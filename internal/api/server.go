// Package api serves the HTTP control surface: device status, enable and
// disable toggles, threshold and timer updates, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"climatereact/internal/ha"
	"climatereact/internal/react"
)

// Server exposes the controllers over HTTP.
type Server struct {
	httpServer  *http.Server
	logger      *zap.Logger
	client      ha.HAClient
	controllers map[string]*react.Controller
}

// NewServer builds the mux and wires every controller under its room name.
func NewServer(port int, client ha.HAClient, controllers []*react.Controller, registry *prometheus.Registry, logger *zap.Logger) *Server {
	s := &Server{
		logger:      logger.Named("api"),
		client:      client,
		controllers: make(map[string]*react.Controller, len(controllers)),
	}
	for _, ctrl := range controllers {
		s.controllers[ctrl.Room()] = ctrl
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("GET /api/devices/{room}", s.handleGetDevice)
	mux.HandleFunc("GET /api/devices/{room}/log", s.handleDeviceLog)
	mux.HandleFunc("POST /api/devices/{room}/enable", s.handleEnable)
	mux.HandleFunc("POST /api/devices/{room}/disable", s.handleDisable)
	mux.HandleFunc("PUT /api/devices/{room}/thresholds", s.handleThresholds)
	mux.HandleFunc("PUT /api/devices/{room}/modes", s.handleModes)
	mux.HandleFunc("PUT /api/devices/{room}/timer", s.handleSetTimer)
	mux.HandleFunc("DELETE /api/devices/{room}/timer", s.handleCancelTimer)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

// Handler returns the underlying handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// controllerFor resolves the {room} path segment, writing a 404 itself when
// the room is unknown.
func (s *Server) controllerFor(w http.ResponseWriter, r *http.Request) (*react.Controller, bool) {
	room := r.PathValue("room")
	ctrl, ok := s.controllers[room]
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown device %q", room))
		return nil, false
	}
	return ctrl, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "climatereact",
		"endpoints": []string{
			"GET /health",
			"GET /metrics",
			"GET /api/devices",
			"GET /api/devices/{room}",
			"GET /api/devices/{room}/log",
			"POST /api/devices/{room}/enable",
			"POST /api/devices/{room}/disable",
			"PUT /api/devices/{room}/thresholds",
			"PUT /api/devices/{room}/modes",
			"PUT /api/devices/{room}/timer",
			"DELETE /api/devices/{room}/timer",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !s.client.IsConnected() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status":    "ok",
		"connected": s.client.IsConnected(),
		"devices":   len(s.controllers),
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	rooms := make([]string, 0, len(s.controllers))
	for room := range s.controllers {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	snapshots := make([]react.Snapshot, 0, len(rooms))
	for _, room := range rooms {
		snapshots = append(snapshots, s.controllers[room].Snapshot())
	}
	s.writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleDeviceLog(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, ctrl.Log())
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	ctrl.Enable()
	s.writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	ctrl.Disable("disabled via API")
	s.writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

type thresholdsRequest struct {
	MinTemp     *float64 `json:"min_temp"`
	MaxTemp     *float64 `json:"max_temp"`
	MinHumidity *float64 `json:"min_humidity"`
	MaxHumidity *float64 `json:"max_humidity"`
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	var req thresholdsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MinTemp == nil && req.MaxTemp == nil && req.MinHumidity == nil && req.MaxHumidity == nil {
		s.writeError(w, http.StatusBadRequest, "no thresholds given")
		return
	}

	if err := ctrl.UpdateThresholds(req.MinTemp, req.MaxTemp, req.MinHumidity, req.MaxHumidity); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

type modesRequest struct {
	LowTemp      *react.ConditionSettings `json:"low_temp"`
	HighTemp     *react.ConditionSettings `json:"high_temp"`
	HighHumidity *react.ConditionSettings `json:"high_humidity"`
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	var req modesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LowTemp == nil && req.HighTemp == nil && req.HighHumidity == nil {
		s.writeError(w, http.StatusBadRequest, "no mode settings given")
		return
	}

	if err := ctrl.UpdateModes(req.LowTemp, req.HighTemp, req.HighHumidity); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

type timerRequest struct {
	Minutes int    `json:"minutes"`
	Action  string `json:"action"`
}

func (s *Server) handleSetTimer(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	var req timerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Action == "" {
		req.Action = string(react.TimerDisable)
	}

	if err := ctrl.SetTimer(time.Duration(req.Minutes)*time.Minute, react.TimerAction(req.Action)); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleCancelTimer(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	ctrl.CancelTimer()
	s.writeJSON(w, http.StatusOK, ctrl.Snapshot())
}
