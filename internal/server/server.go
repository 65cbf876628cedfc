// Package server is the connection manager: it accepts the host's websocket
// connection, feeds inbound frames to the dispatcher and registers the
// connection as the outbound channel for replies and pushes.
package server

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

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/mfulz/geistbind/dispatch"
	"github.com/mfulz/geistbind/internal/acl"
	"github.com/mfulz/geistbind/internal/logging"
	"github.com/mfulz/geistbind/protocol"
)

const (
	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// MessageHandler consumes inbound frames.
type MessageHandler interface {
	OnMessage(ctx context.Context, raw []byte)
}

// Options configures a Server. Handler and Outbound are required.
type Options struct {
	Listen string
	Path   string
	// Ping enables websocket keepalive pings at this interval when > 0.
	Ping     time.Duration
	Handler  MessageHandler
	Outbound *dispatch.Outbound
	Timeouts *dispatch.TimeoutPolicy
	// Access restricts which remote hosts may connect; nil allows all.
	Access *acl.Engine
	// Stats feeds the health endpoint.
	Stats func() dispatch.Stats
	// Fatal is called when the connection fails abnormally. Defaults to
	// logging the error and exiting so a supervisor restarts the process.
	Fatal func(err error)
}

// Server accepts exactly one host connection at a time.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	busy    bool
	active  *conn
	closing bool
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.Fatal == nil {
		opts.Fatal = func(err error) {
			logging.Log.Errorf("[server] connection failed, exiting: %v", err)
			os.Exit(1)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get(s.opts.Path, s.handleWebSocket)
	return r
}

// ListenAndServe serves on opts.Listen until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: writeWait,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Log.Infof("[server] listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close closes the active connection with a normal closure and cancels the
// context in-flight frames are processed with.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	c := s.active
	s.mu.Unlock()

	if c != nil {
		c.close(websocket.CloseGoingAway, "shutting down")
	}
	s.cancel()
}

// Connected reports whether a host connection is registered for outbound
// frames.
func (s *Server) Connected() bool {
	return s.opts.Outbound.Connected()
}

type health struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	dispatch.Stats
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := health{Status: "ok", Connected: s.Connected()}
	if s.opts.Stats != nil {
		h.Stats = s.opts.Stats()
	}
	if h.Instances == nil {
		h.Instances = []string{}
	}
	if h.Loading == nil {
		h.Loading = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Access.Allowed(r.RemoteAddr) {
		logging.Log.Warnf("[server] rejecting connection from %s: not allowed", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	s.mu.Lock()
	if s.busy || s.closing {
		s.mu.Unlock()
		logging.Log.Warnf("[server] rejecting connection from %s: already connected", r.RemoteAddr)
		http.Error(w, "connection already active", http.StatusConflict)
		return
	}
	s.busy = true
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.Errorf("[server] websocket upgrade failed: %v", err)
		s.release(nil)
		return
	}

	c := &conn{ws: ws}
	s.mu.Lock()
	s.active = c
	s.mu.Unlock()

	if s.opts.Timeouts != nil {
		s.opts.Timeouts.Start()
	}
	s.opts.Outbound.Set(c)
	logging.Log.Infof("[server] host connected from %s", r.RemoteAddr)

	s.readLoop(c)
}

func (s *Server) readLoop(c *conn) {
	defer s.release(c)

	stop := make(chan struct{})
	defer close(stop)
	if s.opts.Ping > 0 {
		c.keepalive(s.opts.Ping, stop)
	}

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()

			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Log.Infof("[server] connection closed: %v", err)
				return
			}
			s.opts.Outbound.Clear(c)
			s.opts.Fatal(err)
			return
		}
		go s.opts.Handler.OnMessage(s.ctx, msg)
	}
}

// release frees the slot before unregistering c, so a caller that observed
// Connected() turn false can reconnect right away.
func (s *Server) release(c *conn) {
	s.mu.Lock()
	s.busy = false
	if s.active == c {
		s.active = nil
	}
	s.mu.Unlock()

	if c != nil {
		s.opts.Outbound.Clear(c)
		_ = c.ws.Close()
	}
}

// conn is the host connection. Writes are serialized.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Send encodes frame and writes it as one text message.
func (c *conn) Send(frame protocol.Hash) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// keepalive pings the host every interval; a missing pong expires the read
// deadline and fails the read loop.
func (c *conn) keepalive(interval time.Duration, stop <-chan struct{}) {
	wait := 2 * interval
	_ = c.ws.SetReadDeadline(time.Now().Add(wait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wait))
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
}
