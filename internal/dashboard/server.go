// Package dashboard provides a real-time WebSocket server for sync
// activity.
//
// The dashboard broadcasts queue drains, sync passes, imports and orphan
// cleanups to connected WebSocket clients and serves the Prometheus
// metrics of the running process.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/discoursegraphs/dgsync/internal/logging"
	"github.com/discoursegraphs/dgsync/internal/metrics"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeQueueDrain indicates the change queue drained
	MessageTypeQueueDrain MessageType = "queue_drain"

	// MessageTypeSyncComplete indicates a full sync completed
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeImportComplete indicates an import or refresh completed
	MessageTypeImportComplete MessageType = "import_complete"

	// MessageTypeOrphanCleanup indicates an orphan cleanup pass ran
	MessageTypeOrphanCleanup MessageType = "orphan_cleanup"

	// MessageTypeStats carries the running totals
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server fans dashboard messages out to WebSocket clients and serves
// /health and /metrics.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	mux      *http.ServeMux
	metrics  *metrics.Metrics
	started  time.Time

	mu      sync.Mutex
	clients map[*client]struct{}

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// stats is sent to every client on connect
	stats func() StatsData

	logger *logging.Logger
}

// client is one WebSocket connection with its own writer goroutine. out is
// closed exactly once, by whoever removes the client from the set.
type client struct {
	conn *websocket.Conn
	out  chan []byte
}

const (
	// clientBuffer is how many messages a client may fall behind before
	// it is dropped.
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Metrics served on /metrics (optional)
	Metrics *metrics.Metrics

	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{Port: 8080}
}

// NewServer builds the routes. Nothing listens until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		metrics:   config.Metrics,
		started:   time.Now(),
		clients:   make(map[*client]struct{}),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logging.OrNop(config.Logger).Named("dashboard"),
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.HandleFunc("/", s.handleRoot)
	return s
}

// Handler returns the HTTP routes, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins the broadcast loop and listens on the configured port.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.StartBroadcasting()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("Dashboard listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Dashboard server failed", "error", err)
		}
	}()
	return nil
}

// StartBroadcasting runs only the broadcast loop, for servers mounted on
// another listener through Handler.
func (s *Server) StartBroadcasting() {
	s.wg.Add(1)
	go s.broadcastLoop()
}

// Stop disconnects every client, shuts the listener down and waits for
// all goroutines.
func (s *Server) Stop() error {
	s.logger.Info("Stopping dashboard")
	s.cancel()

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		delete(s.clients, c)
		close(c.out)
		conns = append(conns, c.conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "dgsync shutting down")
	}

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("dashboard shutdown: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	return err
}

// Broadcast queues msg for every client. It never blocks; when the queue
// is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("Broadcast queue full, dropping message", "type", msg.Type)
	}
}

// Send marshals data into a message of type t and broadcasts it.
func (s *Server) Send(t MessageType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", t, err)
	}
	s.Broadcast(Message{Type: t, Timestamp: time.Now(), Data: raw})
	return nil
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("Failed to marshal message", "type", msg.Type, "error", err)
				continue
			}
			s.fanOut(data)
		}
	}
}

// fanOut hands data to every client's outbox. A client whose outbox is
// full is dropped.
func (s *Server) fanOut(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.out <- data:
		default:
			delete(s.clients, c)
			close(c.out)
			s.logger.Warn("Dropping slow dashboard client", "clients", len(s.clients))
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	// The stats snapshot is written before the client joins the set so it
	// is always the first message read.
	stats := StatsData{}
	if s.stats != nil {
		stats = s.stats()
	}
	welcome, err := json.Marshal(stats)
	if err == nil {
		welcome, err = json.Marshal(Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: welcome})
	}
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
		err = conn.Write(ctx, websocket.MessageText, welcome)
		cancel()
	}
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "welcome failed")
		return
	}

	c := &client{conn: conn, out: make(chan []byte, clientBuffer)}
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "dgsync shutting down")
		return
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()
	s.logger.Debug("Client connected", "clients", n)

	go s.writeLoop(c)
	go s.readLoop(c)
}

// writeLoop delivers queued messages until the outbox is closed.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	for data := range c.out {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.logger.Debug("Write to client failed", "error", err)
			s.removeClient(c)
		}
	}
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop discards client frames and notices disconnects.
func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			s.removeClient(c)
			return
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.out)
	s.logger.Debug("Client disconnected", "clients", len(s.clients))
}

// Health is the /health response body.
type Health struct {
	Status  string    `json:"status"`
	Clients int       `json:"clients"`
	Started time.Time `json:"started"`
	Uptime  string    `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Health{
		Status:  "ok",
		Clients: s.ClientCount(),
		Started: s.started,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "dgsync dashboard\n\n  ws://%[1]s/ws\n  http://%[1]s/health\n  http://%[1]s/metrics\n", r.Host)
}

// GetAddr returns the listening address, or the configured one before
// Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
