// Package diag serves the local diagnostics API. It is read-only and meant
// for a technician on the same network segment as the device.
package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/agrinet/field-controller/internal/engine"
	"github.com/agrinet/field-controller/internal/sensors"
	"github.com/agrinet/field-controller/internal/storage"
	"github.com/agrinet/field-controller/internal/task"
)

// Source is what the server needs from the running engine.
type Source interface {
	DeviceID() string
	Latest() sensors.Reading
	ActiveError(now time.Time) (task.Code, time.Duration)
	Tasks() []engine.TaskInfo
	Connected() bool
	TimeSynced() bool
	Uptime() time.Duration
	Watering() bool
	Subscribe() (<-chan sensors.Reading, func())
	DB() *storage.DB
}

// Server exposes controller state over HTTP.
type Server struct {
	src      Source
	log      *zap.SugaredLogger
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// NewServer builds the server; Start binds the listener.
func NewServer(listen string, src Source, log *zap.SugaredLogger) *Server {
	s := &Server{
		src: src,
		log: log,
		upgrader: websocket.Upgrader{
			// Local diagnostics only, no cross-origin policy to enforce.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/readings", s.handleReadings).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/uplinks", s.handleUplinks).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)

	accessLog := &zapio.Writer{Log: log.Desugar(), Level: zapcore.DebugLevel}
	s.httpSrv = &http.Server{
		Addr:         listen,
		Handler:      handlers.CombinedLoggingHandler(accessLog, handlers.RecoveryHandler()(r)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It blocks, run it in its own goroutine.
func (s *Server) Start() error {
	s.log.Infow("diagnostics server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("failed to encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "ok",
		"device":    s.src.DeviceID(),
		"uptimeSec": int64(s.src.Uptime().Seconds()),
	})
}

type statusResponse struct {
	Device     string            `json:"device"`
	Connected  bool              `json:"connected"`
	TimeSynced bool              `json:"timeSynced"`
	UptimeSec  int64             `json:"uptimeSec"`
	Watering   bool              `json:"watering"`
	Error      *errorInfo        `json:"error,omitempty"`
	Reading    sensors.Reading   `json:"reading"`
	Tasks      []engine.TaskInfo `json:"tasks"`
}

type errorInfo struct {
	Code      string `json:"code"`
	ActiveSec int64  `json:"activeSec"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	resp := statusResponse{
		Device:     s.src.DeviceID(),
		Connected:  s.src.Connected(),
		TimeSynced: s.src.TimeSynced(),
		UptimeSec:  int64(s.src.Uptime().Seconds()),
		Watering:   s.src.Watering(),
		Reading:    s.src.Latest(),
		Tasks:      s.src.Tasks(),
	}
	if code, activeFor := s.src.ActiveError(now); code != task.CodeNone {
		resp.Error = &errorInfo{Code: code.String(), ActiveSec: int64(activeFor.Seconds())}
	}
	s.writeJSON(w, resp)
}

func limitParam(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	return limit
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	rows, err := s.src.DB().GetRecentReadings(limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rows, err := s.src.DB().GetRecentIrrigationEvents(limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) handleUplinks(w http.ResponseWriter, r *http.Request) {
	rows, err := s.src.DB().GetUplinkLog(limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.src.DB().GetStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, stats)
}

// handleWS streams each committed reading as a JSON text message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	readings, cancel := s.src.Subscribe()
	defer cancel()

	// Drain control frames so pings and the close handshake are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case reading := <-readings:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(reading); err != nil {
				return
			}
		}
	}
}
