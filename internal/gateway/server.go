// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Package gateway carries protocol events over WebSocket connections.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Error codes returned by the gateway.
const (
	CodeConnectionClosed = "GATEWAY_CONNECTION_CLOSED"
	CodeMalformedFrame   = "GATEWAY_MALFORMED_FRAME"
	CodeListenFailed     = "GATEWAY_LISTEN_FAILED"
)

// Defaults for Server options.
const (
	DefaultPath            = "/socket"
	DefaultWriteTimeout    = 10 * time.Second
	DefaultMaxMessageBytes = 64 * 1024
	// inboundQueueSize bounds frames read ahead of the processing goroutine.
	inboundQueueSize = 32
)

// ErrConnectionClosed is returned by EmitTo for unknown or closed connections.
var ErrConnectionClosed = errors.New("connection closed")

// Connection receives the inbound events of one client.
type Connection interface {
	// Handle processes one event. Calls for a connection are sequential.
	Handle(ctx context.Context, event string, data json.RawMessage)
	// Close is called once, as soon as the client disconnects.
	Close()
}

// Opener creates the Connection for a newly accepted client.
type Opener interface {
	Open(connID string) Connection
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(connID string) Connection

// Open calls f(connID).
func (f OpenerFunc) Open(connID string) Connection { return f(connID) }

// Option configures a Server.
type Option func(*Server)

// WithPath sets the HTTP path the WebSocket endpoint is served on.
func WithPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.path = path
		}
	}
}

// WithAllowedOrigins restricts browser origins. An empty list allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = slices.Clone(origins) }
}

// WithWriteTimeout bounds each outbound write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithMaxMessageBytes limits the size of inbound messages.
func WithMaxMessageBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxMessageBytes = n
		}
	}
}

// WithOnListen registers fn to be called with the bound address once Run
// is accepting clients.
func WithOnListen(fn func(addr string)) Option {
	return func(s *Server) { s.onListen = fn }
}

// WithLogger sets the Server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server accepts WebSocket clients and routes frames between them and an
// Opener. It implements EmitTo for replies.
type Server struct {
	addr            string
	path            string
	origins         []string
	writeTimeout    time.Duration
	maxMessageBytes int64
	logger          *slog.Logger
	onListen        func(addr string)
	upgrader        websocket.Upgrader

	mu       sync.RWMutex
	clients  map[string]*client
	listener net.Listener
	baseCtx  context.Context
	closing  bool
	wg       sync.WaitGroup
}

// client is one upgraded connection. Writes are serialized by writeMu.
type client struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewServer creates a Server that will listen on addr.
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		path:            DefaultPath,
		writeTimeout:    DefaultWriteTimeout,
		maxMessageBytes: DefaultMaxMessageBytes,
		logger:          slog.New(slog.DiscardHandler),
		clients:         make(map[string]*client),
		baseCtx:         context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Addr returns the listen address once Run has started listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler(opener Opener) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, func(w http.ResponseWriter, r *http.Request) {
		s.serveConn(w, r, opener)
	})
	return mux
}

// Run listens on the configured address and serves clients until ctx is
// cancelled. Open connections are closed and drained before Run returns.
func (s *Server) Run(ctx context.Context, opener Opener) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return oops.Code(CodeListenFailed).With("addr", s.addr).Wrap(err)
	}

	s.mu.Lock()
	s.listener = listener
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(opener),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway started", "addr", listener.Addr().String(), "path", s.path)
	if s.onListen != nil {
		s.onListen(listener.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			s.closeAll()
			s.wg.Wait()
			return oops.Code(CodeListenFailed).With("addr", s.addr).Wrap(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Debug("gateway shutdown", "error", err)
	}
	s.closeAll()
	s.wg.Wait()
	s.logger.Info("gateway stopped")
	return nil
}

// EmitTo sends event with payload to the connection connID only.
func (s *Server) EmitTo(connID, event string, payload any) error {
	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()
	if !ok {
		return oops.Code(CodeConnectionClosed).With("conn_id", connID).Wrap(ErrConnectionClosed)
	}

	msg, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return oops.With("conn_id", connID).Wrap(err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		s.logger.Warn("websocket send failed", "conn_id", connID, "error", err)
		_ = c.ws.Close()
		return oops.Code(CodeConnectionClosed).With("conn_id", connID).Wrap(err)
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	// Non-browser clients send no Origin.
	return origin == "" || slices.Contains(s.origins, origin)
}

// serveConn runs one client: this goroutine reads frames and a second one
// processes them in order.
func (s *Server) serveConn(w http.ResponseWriter, r *http.Request, opener Opener) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(s.maxMessageBytes)

	c := &client{id: ulid.Make().String(), ws: ws}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	s.clients[c.id] = c
	baseCtx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	OpenConnections.Inc()
	ConnectionsAccepted.Inc()
	s.logger.Info("client connected", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(baseCtx)
	conn := opener.Open(c.id)
	queue := make(chan []byte, inboundQueueSize)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-queue:
				s.dispatch(ctx, c.id, conn, msg)
			}
		}
	}()

	s.readLoop(ctx, c, queue)

	// Disconnect: forget the client and unbind before in-flight work ends.
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	cancel()
	conn.Close()
	_ = ws.Close()
	<-done

	OpenConnections.Dec()
	s.logger.Info("client disconnected", "conn_id", c.id)
}

func (s *Server) readLoop(ctx context.Context, c *client, queue chan<- []byte) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		select {
		case queue <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, connID string, conn Connection, msg []byte) {
	f, err := parseFrame(msg)
	if err != nil {
		FramesRejected.Inc()
		s.logger.Debug("malformed frame", "conn_id", connID, "error", err)
		_ = s.EmitTo(connID, "error", MsgMalformedFrame)
		return
	}
	conn.Handle(ctx, f.Event, f.Data)
}

// closeAll stops admitting clients and closes the ones already registered.
func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for _, c := range s.clients {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	}
}
