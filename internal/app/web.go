// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/bokobox/internal/acquire"
	"github.com/relabs-tech/bokobox/internal/calibration"
	"github.com/relabs-tech/bokobox/internal/logging"
	"github.com/relabs-tech/bokobox/internal/metrics"
)

// Controller is the part of the acquisition loop the outer surfaces use.
// *acquire.Loop implements it.
type Controller interface {
	Latest() *acquire.Snapshot
	Mode() acquire.Mode
	Calibration() calibration.Vector
	Apply(ctx context.Context, cmd acquire.Command) bool
	Subscribe(buffer int) (<-chan *acquire.Snapshot, func())
}

const (
	wsWriteTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsMessage is a command sent by a websocket client.
type wsMessage struct {
	Action string `json:"action"` // calibrate, acquire, cancel
}

// wsEvent is pushed to websocket clients.
type wsEvent struct {
	Type     string            `json:"type"` // snapshot, ack, error
	Snapshot *acquire.Snapshot `json:"snapshot,omitempty"`
	Command  string            `json:"command,omitempty"`
	Changed  *bool             `json:"changed,omitempty"`
	Message  string            `json:"message,omitempty"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type modeResponse struct {
	Mode    acquire.Mode `json:"mode"`
	Changed bool         `json:"changed"`
}

type calibrationResponse struct {
	Factors  calibration.Vector    `json:"factors"`
	Mode     acquire.Mode          `json:"mode"`
	Progress *calibration.Progress `json:"progress,omitempty"`
}

type webServer struct {
	ctl     Controller
	metrics *metrics.Collector
	log     logging.Logger
}

// NewWebHandler serves the JSON API, the snapshot websocket, /metrics and,
// when staticDir exists, the files under it.
func NewWebHandler(ctl Controller, m *metrics.Collector, staticDir string, log logging.Logger) http.Handler {
	if log == nil {
		log = logging.Noop()
	}
	s := &webServer{ctl: ctl, metrics: m, log: log.With(logging.Component("web"))}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/calibration", s.handleCalibration)
	mux.HandleFunc("/api/mode", s.handleMode)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", m.Handler())

	if staticDir != "" {
		if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
			mux.Handle("/", http.FileServer(http.Dir(staticDir)))
		}
	}
	return mux
}

func (s *webServer) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn(ctx, "web: json encode error", logging.Err(err))
	}
}

func (s *webServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.ctl.Latest()
	if snap == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, snap)
}

func (s *webServer) handleCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := calibrationResponse{Factors: s.ctl.Calibration(), Mode: s.ctl.Mode()}
	if snap := s.ctl.Latest(); snap != nil && snap.Mode == acquire.Calibrating {
		resp.Progress = snap.Progress
	}
	s.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *webServer) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req modeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	cmd, err := acquire.ParseCommand(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	changed := s.ctl.Apply(r.Context(), cmd)
	s.log.Info(r.Context(), "web: mode command",
		logging.String("command", cmd.String()), logging.Any("changed", changed))
	s.writeJSON(r.Context(), w, http.StatusOK, modeResponse{Mode: s.ctl.Mode(), Changed: changed})
}

// handleWS streams every snapshot to the client and accepts mode actions.
func (s *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(ctx, "web: websocket upgrade error", logging.Err(err))
		return
	}
	defer conn.Close()

	updates, cancel := s.ctl.Subscribe(8)
	defer cancel()

	var writeMu sync.Mutex
	send := func(ev wsEvent) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	}

	if snap := s.ctl.Latest(); snap != nil {
		if err := send(wsEvent{Type: "snapshot", Snapshot: snap}); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readActions(ctx, conn.ReadJSON, send)
	}()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := send(wsEvent{Type: "snapshot", Snapshot: snap}); err != nil {
				s.log.Debug(ctx, "web: websocket write error", logging.Err(err))
				return
			}
		}
	}
}

// readActions applies client actions and answers each with an ack or an
// error event. It returns when reading or answering fails.
func (s *webServer) readActions(ctx context.Context, read func(v any) error, send func(wsEvent) error) {
	for {
		var msg wsMessage
		if err := read(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug(ctx, "web: websocket read error", logging.Err(err))
			}
			return
		}
		ev := wsEvent{Type: "error"}
		if cmd, err := acquire.ParseCommand(msg.Action); err != nil {
			ev.Message = err.Error()
		} else {
			changed := s.ctl.Apply(ctx, cmd)
			ev = wsEvent{Type: "ack", Command: cmd.String(), Changed: &changed}
		}
		if err := send(ev); err != nil {
			s.log.Debug(ctx, "web: websocket write error", logging.Err(err))
			return
		}
	}
}

// serveWeb runs the HTTP server until ctx is cancelled.
func serveWeb(ctx context.Context, port int, handler http.Handler, log logging.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "web: server listening", logging.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	log.Info(ctx, "web: server stopped")
	return nil
}
