// Package gateway serves the websocket endpoint panels connect to. It carries
// bus events between the page session and every connected panel, and answers
// RPC requests about the inspected page.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/config"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// Version is reported in the connect handshake.
var Version = "dev"

// Server is the panel-facing websocket gateway.
type Server struct {
	cfg      config.GatewayConfig
	tabID    string
	upgrader websocket.Upgrader
	router   *MethodRouter
	limiter  *RateLimiter
	statusFn func() map[string]any

	mu      sync.RWMutex
	clients map[string]*Client
	seq     atomic.Int64
}

type Option func(*Server)

// WithTabID is reported to panels on connect.
func WithTabID(id string) Option { return func(s *Server) { s.tabID = id } }

// WithStatus adds fields to the status method's payload.
func WithStatus(fn func() map[string]any) Option { return func(s *Server) { s.statusFn = fn } }

func NewServer(cfg config.GatewayConfig, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		clients: make(map[string]*Client),
		limiter: NewRateLimiter(cfg.RateLimitRPM, 20),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	for _, o := range opts {
		o(s)
	}
	s.router = NewMethodRouter(s)
	return s
}

// Router exposes method registration.
func (s *Server) Router() *MethodRouter { return s.router }

// ClientCount returns the number of connected panels.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// checkOrigin accepts non-browser clients (no Origin header) and, when an
// allowlist is configured, only the listed browser origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	if slices.Contains(s.cfg.AllowedOrigins, origin) {
		return true
	}
	slog.Warn("security.origin_rejected", "origin", origin)
	return false
}

// Handler returns the HTTP handler: /ws for panels and /health for health checks.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.ClientCount()})
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway.upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	client := NewClient(conn, s)
	s.register(client)
	defer s.unregister(client)
	client.Run(r.Context())
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()
	slog.Info("gateway.client_connected", "client", c.id, "clients", n)
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		c.Close()
	}
	n := len(s.clients)
	s.mu.Unlock()
	slog.Info("gateway.client_disconnected", "client", c.id, "clients", n)
}

// Broadcast pushes an event to every authenticated panel.
func (s *Server) Broadcast(event string, payload any) int {
	frame := protocol.NewEvent(event, payload)
	frame.Seq = s.seq.Add(1)

	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.Authenticated() {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.SendEvent(*frame)
	}
	return len(targets)
}

// Send relays a page bus event to the panels, making the server the page
// bus's Channel. No connected panel is not an error.
func (s *Server) Send(_ context.Context, ev bus.Event) error {
	if ev.Data == nil {
		return errors.New("gateway: event has no payload")
	}
	s.Broadcast(protocol.EventBus, ev)
	return nil
}

// ListenAndServe serves on cfg.Addr() until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		s.Broadcast(protocol.EventShutdown, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.limiter.Stop()
	}()

	slog.Info("gateway.listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
