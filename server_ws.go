package jrpc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSServer serves JSON-RPC over persistent WebSocket connections. Each
// inbound text frame carries one message (single or batch) and its
// responses, if any, are written back as one outbound frame.
type WSServer struct {
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	log        zerolog.Logger

	mu       sync.RWMutex
	conns    map[*WSConn]struct{}
	draining bool

	inflight sync.WaitGroup
}

// WSServerOption configures a WSServer.
type WSServerOption func(*WSServer)

// WithServerLogger sets the server's logger.
func WithServerLogger(log zerolog.Logger) WSServerOption {
	return func(s *WSServer) { s.log = log }
}

// NewWSServer creates a WebSocket server over the given dispatcher.
func NewWSServer(d *Dispatcher, opts ...WSServerOption) *WSServer {
	s := &WSServer{
		dispatcher: d,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins by default
			},
		},
		log:   zerolog.Nop(),
		conns: make(map[*WSConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCheckOrigin sets the origin check function for the upgrader.
func (s *WSServer) SetCheckOrigin(f func(r *http.Request) bool) {
	s.upgrader.CheckOrigin = f
}

// ConnectionCount returns the number of active connections.
func (s *WSServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// ServeHTTP implements http.Handler for WebSocket upgrades.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := newWSConn(ws, s, r)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	go conn.writePump()
	conn.readPump()
}

// Shutdown stops accepting new frames, waits for in-flight dispatches
// to complete (bounded by ctx), then closes every connection with a
// going-away frame. Safe to call once.
func (s *WSServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.mu.Lock()
	conns := make([]*WSConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeGracefully()
	}
	return err
}

func (s *WSServer) isDraining() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draining
}

func (s *WSServer) unregister(c *WSConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// WSConn is one server-side WebSocket connection.
type WSConn struct {
	ws      *websocket.Conn
	server  *WSServer
	httpReq *http.Request
	send    chan []byte

	mu     sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn, server *WSServer, r *http.Request) *WSConn {
	return &WSConn{
		ws:      ws,
		server:  server,
		httpReq: r,
		send:    make(chan []byte, 256),
	}
}

// HTTPRequest returns the upgrade request this connection came from.
func (c *WSConn) HTTPRequest() *http.Request { return c.httpReq }

// Send queues an outbound frame. It is safe for concurrent use; a
// full buffer or a closed connection drops the frame.
func (c *WSConn) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.log.Warn().Msg("outbound frame dropped, send buffer full")
	}
}

// readPump reads inbound frames and dispatches each on its own
// goroutine, so a slow method does not block the connection.
func (c *WSConn) readPump() {
	defer func() {
		c.server.unregister(c)
		c.close()
		c.ws.Close()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if c.server.isDraining() {
			continue
		}
		c.server.inflight.Add(1)
		go func(data []byte) {
			defer c.server.inflight.Done()
			out := c.server.dispatcher.Handle(context.Background(), data, map[string]any{
				ExtraHTTPRequest: c.httpReq,
				ExtraWSConn:      c,
			})
			if out != nil {
				c.Send(out)
			}
		}(data)
	}
}

func (c *WSConn) writePump() {
	defer c.ws.Close()

	for data := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *WSConn) closeGracefully() {
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(5*time.Second),
	)
	c.close()
}

func (c *WSConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
