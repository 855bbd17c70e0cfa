// Package statusfeed exposes coordinator events to external observers
// over a read-only WebSocket feed. Slow consumers are disconnected
// rather than allowed to back-pressure the poll loop.
package statusfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/tablepilot/tablepilot/internal/coordinator"
)

const clientSendBuffer = 64

// client is one connected observer with its own outbound buffer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server is the WebSocket status feed.
type Server struct {
	addr       string
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	logger     *log.Logger
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	httpSrv    *http.Server
	listener   net.Listener
}

// NewServer creates a status feed bound to addr.
func NewServer(addr string, logger *log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.WithPrefix("statusfeed"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start binds the listener and serves until Stop. Returns once the
// listener is bound so callers can read Addr.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go s.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.httpSrv = &http.Server{Handler: mux}

	s.logger.Info("status feed listening", "addr", listener.Addr().String())
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status feed serve failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, useful with port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
		_ = c.conn.Close()
	}
	s.clients = make(map[*client]bool)
	s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) run() {
	for {
		select {
		case c := <-s.register:
			s.mu.Lock()
			s.clients[c] = true
			total := len(s.clients)
			s.mu.Unlock()
			s.logger.Info("observer connected", "total", total)

		case c := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
				_ = c.conn.Close()
			}
			total := len(s.clients)
			s.mu.Unlock()
			s.logger.Info("observer disconnected", "total", total)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	s.register <- c
	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

// readPump discards inbound frames; the feed is one-way. Its real job
// is noticing the close.
func (s *Server) readPump(c *client) {
	defer func() {
		select {
		case s.unregister <- c:
		case <-s.ctx.Done():
		}
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("observer read failed", "error", err)
			}
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Broadcast sends one event to every connected observer. A client
// whose buffer is full is dropped.
func (s *Server) Broadcast(e coordinator.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("event marshal failed", "type", e.Type, "error", err)
		return
	}

	s.mu.RLock()
	var slow []*client
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		s.logger.Warn("dropping slow observer")
		select {
		case s.unregister <- c:
		case <-s.ctx.Done():
		}
	}
}

// Pump broadcasts coordinator events until the channel closes.
func (s *Server) Pump(events <-chan coordinator.Event) {
	for e := range events {
		s.Broadcast(e)
	}
}
