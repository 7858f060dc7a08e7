package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/dashbridge/internal/bridge"
	"github.com/shaunagostinho/dashbridge/internal/obd"
)

// Bridge is the part of the runner the server needs.
type Bridge interface {
	Subscribe(buf int) (<-chan *bridge.State, func())
	Do(ctx context.Context, cmd bridge.Command) (bridge.Reply, error)
	Latest() *bridge.State
}

// Server exposes the HTTP API and broadcasts states to WebSocket clients.
type Server struct {
	cfg     *Config
	br      Bridge
	metrics http.Handler

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	State  *bridge.State `json:"state,omitempty"`
	Config *Config       `json:"config,omitempty"`
	Stamp  int64         `json:"stamp"` // Unix ms
}

// CodeInfo pairs a trouble code with its description.
type CodeInfo struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// CodesResponse is the body of GET /api/codes.
type CodesResponse struct {
	Stored    []CodeInfo     `json:"stored"`
	Pending   []CodeInfo     `json:"pending"`
	ScannedAt *time.Time     `json:"scannedAt,omitempty"`
	MIL       *obd.MILStatus `json:"mil,omitempty"`
}

// New creates a new Server. metrics may be nil.
func New(cfg *Config, br Bridge, metrics http.Handler) *Server {
	return &Server{
		cfg:     cfg,
		br:      br,
		metrics: metrics,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/codes", s.handleCodes)
	mux.HandleFunc("/api/pids", s.handlePIDs)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Run serves HTTP and forwards every published state to WebSocket clients
// until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.broadcastLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) broadcastLoop(ctx context.Context) {
	states, cancel := s.br.Subscribe(8)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-states:
			s.broadcast(Frame{State: st, Stamp: time.Now().UnixMilli()})
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send config and the latest state so the client needs no round trip
	hello := Frame{Config: s.cfg, State: s.br.Latest(), Stamp: time.Now().UnixMilli()}
	if data, err := s.marshalFrame(hello); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine: text messages are commands, replies go back to the sender
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply, _ := s.runCommand(context.Background(), string(msg))
			if data, err := json.Marshal(map[string]any{"reply": reply}); err == nil {
				select {
				case client.send <- data:
				default:
				}
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost, http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		s.broadcast(Frame{Config: s.cfg, Stamp: time.Now().UnixMilli()})

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.br.Latest()
	if st == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reply, status := s.runCommand(r.Context(), string(body))
	writeJSON(w, status, reply)
}

// runCommand parses and executes one command line.
func (s *Server) runCommand(ctx context.Context, line string) (bridge.Reply, int) {
	cmd, err := bridge.ParseCommand(line)
	if err != nil {
		return bridge.Reply{"error": err.Error()}, http.StatusBadRequest
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	reply, err := s.br.Do(ctx, cmd)
	if err != nil {
		return bridge.Reply{"error": err.Error()}, http.StatusServiceUnavailable
	}
	return reply, http.StatusOK
}

func (s *Server) handleCodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := CodesResponse{Stored: []CodeInfo{}, Pending: []CodeInfo{}}
	if st := s.br.Latest(); st != nil && st.Snapshot != nil {
		codes := st.Snapshot.Codes
		resp.Stored = describe(codes.Stored)
		resp.Pending = describe(codes.Pending)
		if !codes.ScannedAt.IsZero() {
			at := codes.ScannedAt
			resp.ScannedAt = &at
		}
		resp.MIL = codes.MIL
	}
	writeJSON(w, http.StatusOK, resp)
}

func describe(codes []string) []CodeInfo {
	out := make([]CodeInfo, 0, len(codes))
	for _, c := range codes {
		out = append(out, CodeInfo{Code: c, Description: obd.Describe(c)})
	}
	return out
}

func (s *Server) handlePIDs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, obd.PIDs())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

// marshalFrame holds the config read lock while the frame is encoded.
func (s *Server) marshalFrame(frame Frame) ([]byte, error) {
	if frame.Config != nil {
		frame.Config.mu.RLock()
		defer frame.Config.mu.RUnlock()
	}
	return json.Marshal(frame)
}

func (s *Server) broadcast(frame Frame) {
	data, err := s.marshalFrame(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
