// Package gateway is the daemon's local control plane: a WebSocket server
// bound to localhost serving status queries, manual sync triggers and a
// heartbeat event stream.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/observability"
	"github.com/harun/nara/pkg/heartbeat"
)

// Frame error codes, JSON-RPC 2.0 convention.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InternalError  = -32603
)

// Built-in method names.
const (
	MethodStatus      = "status"
	MethodSync        = "memory.sync"
	MethodSubscribe   = "heartbeat.subscribe"
	MethodUnsubscribe = "heartbeat.unsubscribe"
)

// EventHeartbeatRun is the event name for heartbeat job results.
const EventHeartbeatRun = "heartbeat.run"

// Request is an inbound JSON frame.
type Request struct {
	ID      string                 `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
	JSONRPC string                 `json:"jsonrpc"`
}

// Response is the reply frame to a Request.
type Response struct {
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	JSONRPC string      `json:"jsonrpc"`
}

// Error is a frame-level error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Event is a server-initiated frame pushed to subscribed clients.
type Event struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// StatusFunc returns the daemon status document sent to clients.
type StatusFunc func(ctx context.Context) (interface{}, error)

// SyncFunc triggers a manual memory sync and returns its stats.
type SyncFunc func(ctx context.Context) (interface{}, error)

// Config configures a gateway Server.
type Config struct {
	// Port to listen on; 0 picks an ephemeral port. The server always
	// binds to the loopback interface.
	Port   int
	Status StatusFunc
	Sync   SyncFunc
	Logger zerolog.Logger
}

type client struct {
	id   string
	conn *websocket.Conn

	writeMu    sync.Mutex
	subscribed atomic.Bool
}

func (c *client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

type handlerFunc func(ctx context.Context, c *client, params map[string]interface{}) (interface{}, error)

// Server is the gateway WebSocket server.
type Server struct {
	port     int
	status   StatusFunc
	sync     SyncFunc
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	methods  map[string]handlerFunc

	seq atomic.Int64

	mu           sync.RWMutex
	clients      map[string]*client
	listener     net.Listener
	httpServer   *http.Server
	running      bool
	shuttingDown bool
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Status == nil {
		return nil, fmt.Errorf("status function is required")
	}
	if cfg.Sync == nil {
		return nil, fmt.Errorf("sync function is required")
	}

	observability.EnsureRegistered()

	s := &Server{
		port:    cfg.Port,
		status:  cfg.Status,
		sync:    cfg.Sync,
		logger:  cfg.Logger.With().Str("component", "gateway").Logger(),
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			// Loopback-only listener; browser origins are irrelevant here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.methods = map[string]handlerFunc{
		MethodStatus: func(ctx context.Context, _ *client, _ map[string]interface{}) (interface{}, error) {
			return s.status(ctx)
		},
		MethodSync: func(ctx context.Context, _ *client, _ map[string]interface{}) (interface{}, error) {
			return s.sync(ctx)
		},
		MethodSubscribe: func(_ context.Context, c *client, _ map[string]interface{}) (interface{}, error) {
			c.subscribed.Store(true)
			return map[string]interface{}{"subscribed": true}, nil
		},
		MethodUnsubscribe: func(_ context.Context, c *client, _ map[string]interface{}) (interface{}, error) {
			c.subscribed.Store(false)
			return map[string]interface{}{"subscribed": false}, nil
		},
	}

	return s, nil
}

// Start binds the loopback listener and begins serving.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("gateway server already started")
	}

	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.listener = listener
	s.httpServer = &http.Server{Handler: mux}
	s.running = true
	s.shuttingDown = false

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("gateway server error")
		}
	}()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("gateway server started")
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes client connections and shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("gateway server is not running")
	}
	s.shuttingDown = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	server := s.httpServer
	s.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown gateway server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.listener = nil
	s.httpServer = nil
	s.mu.Unlock()

	s.logger.Info().Msg("gateway server stopped")
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// BroadcastHeartbeat pushes a heartbeat run event to subscribed clients.
func (s *Server) BroadcastHeartbeat(ev heartbeat.RunEvent) {
	s.broadcast(EventHeartbeatRun, ev)
}

func (s *Server) broadcast(event string, data interface{}) {
	msg := Event{
		Type:      "event",
		Event:     event,
		Seq:       s.seq.Add(1),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.subscribed.Load() {
			clients = append(clients, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(msg); err != nil {
			s.logger.Warn().Err(err).Str("client_id", c.id).Str("event", event).Msg("failed to push event")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	if s.shuttingDown {
		s.mu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.mu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	c := &client{id: clientID, conn: conn}

	s.mu.Lock()
	s.clients[clientID] = c
	count := len(s.clients)
	s.mu.Unlock()
	observability.SetGatewayConnections(count)

	s.logger.Info().Str("client_id", clientID).Str("remote", r.RemoteAddr).Msg("client connected")

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.clients, clientID)
		count := len(s.clients)
		s.mu.Unlock()
		observability.SetGatewayConnections(count)
		s.logger.Info().Str("client_id", clientID).Msg("client disconnected")
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", clientID).Msg("websocket read error")
			}
			return
		}
		s.handleMessage(c, message)
	}
}

func (s *Server) handleMessage(c *client, message []byte) {
	req, frameErr := parseRequest(message)
	if frameErr != nil {
		s.writeError(c, "", frameErr)
		return
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		s.writeError(c, req.ID, &Error{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		})
		return
	}

	// Sync can run long; do not block the client's read loop on it.
	go func() {
		result, err := handler(context.Background(), c, req.Params)

		resp := Response{ID: req.ID, JSONRPC: "2.0"}
		if err != nil {
			resp.Error = &Error{Code: InternalError, Message: err.Error()}
		} else {
			resp.Result = result
		}

		if err := c.writeJSON(resp); err != nil {
			s.logger.Warn().Err(err).Str("client_id", c.id).Str("request_id", req.ID).Msg("failed to send response")
		}
	}()
}

func (s *Server) writeError(c *client, requestID string, frameErr *Error) {
	resp := Response{ID: requestID, JSONRPC: "2.0", Error: frameErr}
	if err := c.writeJSON(resp); err != nil {
		s.logger.Warn().Err(err).Str("client_id", c.id).Msg("failed to send error response")
	}
}

func parseRequest(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &Error{Code: ParseError, Message: "parse error"}
	}
	if req.ID == "" {
		return nil, &Error{Code: InvalidRequest, Message: "invalid request: missing id field"}
	}
	if req.Method == "" {
		return nil, &Error{Code: InvalidRequest, Message: "invalid request: missing method field"}
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}
	return &req, nil
}
