// Package httpapi exposes the gateway over HTTP: node state, command
// execution, balancer control, a websocket reading stream, and Prometheus
// metrics. This is the surface the dashboard talks to.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/justinkk04/BLE-mesh-networking-sub001/balancer"
	"github.com/justinkk04/BLE-mesh-networking-sub001/mesh"
	"github.com/justinkk04/BLE-mesh-networking-sub001/protocol"
	"github.com/justinkk04/BLE-mesh-networking-sub001/state"
)

// executor is the slice of the protocol engine the API needs.
type executor interface {
	Execute(ctx context.Context, target mesh.Target, cmd protocol.Command) ([]*protocol.Response, error)
}

// balancerControl is the slice of the balancer the API needs.
type balancerControl interface {
	SetThreshold(ctx context.Context, mw float64)
	SetPriority(id int)
	ClearPriority()
	Status() balancer.Status
}

type Server struct {
	exec    executor
	bal     balancerControl
	store   *state.Store
	metrics http.Handler
	log     *slog.Logger

	upgrader websocket.Upgrader
	router   *mux.Router
}

func NewServer(exec executor, bal balancerControl, store *state.Store, metrics http.Handler, log *slog.Logger) *Server {
	s := &Server{
		exec:    exec,
		bal:     bal,
		store:   store,
		metrics: metrics,
		log:     log.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/nodes", s.handleNodes).Methods(http.MethodGet)
	r.HandleFunc("/api/command", s.handleCommand).Methods(http.MethodPost)
	r.HandleFunc("/api/power", s.handlePowerStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/power/threshold", s.handleThreshold).Methods(http.MethodPost)
	r.HandleFunc("/api/power/priority", s.handleSetPriority).Methods(http.MethodPost)
	r.HandleFunc("/api/power/priority", s.handleClearPriority).Methods(http.MethodDelete)
	r.HandleFunc("/ws", s.handleWebsocket)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown", "error", err)
		}
	}()

	s.log.Info("http server listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	type nodeView struct {
		ID            int       `json:"id"`
		Duty          int       `json:"duty"`
		TargetDuty    int       `json:"targetDuty"`
		CommandedDuty int       `json:"commandedDuty"`
		Voltage       float64   `json:"voltage"`
		Current       float64   `json:"current"`
		Power         float64   `json:"power"`
		LastSeen      time.Time `json:"lastSeen"`
		Responsive    bool      `json:"responsive"`
	}

	snap := s.store.Snapshot()
	out := make([]nodeView, 0, len(snap))
	for _, ns := range snap {
		out = append(out, nodeView{
			ID:            ns.ID,
			Duty:          ns.Duty,
			TargetDuty:    ns.TargetDuty,
			CommandedDuty: ns.CommandedDuty,
			Voltage:       ns.Voltage,
			Current:       ns.Current,
			Power:         ns.Power,
			LastSeen:      ns.LastSeen,
			Responsive:    ns.Responsive,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Replies []string `json:"replies"`
}

// handleCommand accepts the caller-facing TARGET:VERB[:VALUE] form and
// returns the upward-facing reply strings.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	target, cmd, err := protocol.ParseRequest(req.Command)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	replies, err := s.exec.Execute(r.Context(), target, cmd)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrBusy):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, protocol.ErrTimeout):
			writeError(w, http.StatusGatewayTimeout, err)
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}

	out := commandResponse{Replies: make([]string, 0, len(replies))}
	for _, resp := range replies {
		out.Replies = append(out.Replies, resp.String())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePowerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bal.Status())
}

type thresholdRequest struct {
	ThresholdMW float64 `json:"thresholdMw"`
}

// handleThreshold sets the balancing ceiling; zero disables balancing.
func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ThresholdMW < 0 {
		writeError(w, http.StatusBadRequest, errors.New("threshold must not be negative"))
		return
	}

	s.bal.SetThreshold(r.Context(), req.ThresholdMW)
	writeJSON(w, http.StatusOK, s.bal.Status())
}

type priorityRequest struct {
	Node int `json:"node"`
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Node < 0 || req.Node >= mesh.MaxNodes {
		writeError(w, http.StatusBadRequest, errors.New("node id out of range"))
		return
	}

	s.bal.SetPriority(req.Node)
	writeJSON(w, http.StatusOK, s.bal.Status())
}

func (s *Server) handleClearPriority(w http.ResponseWriter, r *http.Request) {
	s.bal.ClearPriority()
	writeJSON(w, http.StatusOK, s.bal.Status())
}

// handleWebsocket streams accepted readings as JSON, one message per
// reading. Slow clients miss readings rather than stalling the engine.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close handshakes are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub := s.store.Subscribe()
	defer s.store.Unsubscribe(sub)
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case reading := <-sub:
			if err := conn.WriteJSON(reading); err != nil {
				return
			}
		}
	}
}
