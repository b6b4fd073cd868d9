package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ascending/ascend/internal/protocol"
)

// Handler serves one peer connection until it returns. ctx is cancelled when
// the server stops.
type Handler func(ctx context.Context, ch protocol.Channel) error

// Server accepts peer connections on /ws and hands each to a Handler.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	handler  Handler
	health   func() any

	// WebSocket client management
	clients   map[*Conn]bool
	clientsMu sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: localhost:12517). Port 0 picks a free port.
	Addr string

	// Health returns extra fields for the /health response. Optional.
	Health func() any

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "localhost:12517",
		Logger: log.New(os.Stderr, "[transport] ", log.LstdFlags),
	}
}

// NewServer creates a server that runs handler for every connection.
func NewServer(handler Handler, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:    config.Addr,
		handler: handler,
		health:  config.Health,
		clients: make(map[*Conn]bool),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every peer connection and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		conn.closeWith(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Server stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn := NewConn(ws)

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Peer connected from %s (total: %d)", r.RemoteAddr, clientCount)
	defer s.removeClient(conn)

	if err := s.handler(s.ctx, conn); err != nil {
		s.logger.Printf("Peer %s: %v", r.RemoteAddr, err)
	}
}

func (s *Server) removeClient(conn *Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close()
		s.logger.Printf("Peer disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	}
	if s.health != nil {
		body["session"] = s.health()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the WebSocket URL peers dial.
func (s *Server) URL() string {
	return URL(s.Addr())
}

// URL returns the WebSocket URL of a session listening on addr.
func URL(addr string) string {
	return "ws://" + addr + "/ws"
}

// ClientCount returns the number of connected peers.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
