package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// MethodHandler processes a single RPC method request.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	server   *Server
}

func NewMethodRouter(server *Server) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		server:   server,
	}
	r.registerDefaults()
	return r
}

// Register adds a method handler, replacing any previous one.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Methods lists the registered method names.
func (r *MethodRouter) Methods() []string {
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	return out
}

// Handle dispatches a request to its handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("gateway.unknown_method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method))
		return
	}
	slog.Debug("gateway.handle", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

func (r *MethodRouter) registerDefaults() {
	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodHealth, r.handleHealth)
	r.Register(protocol.MethodStatus, r.handleStatus)
}

// handleConnect authenticates the panel. With no token configured every
// panel is accepted; otherwise the token must match.
func (r *MethodRouter) handleConnect(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var params protocol.ConnectParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid connect params"))
			return
		}
	}

	want := r.server.cfg.Token
	if want != "" && subtle.ConstantTimeCompare([]byte(params.Token), []byte(want)) != 1 {
		slog.Warn("security.connect_rejected", "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "invalid token"))
		return
	}

	client.authenticate(params.Client)
	slog.Info("gateway.client_authenticated", "client", client.id, "name", params.Client)
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.ConnectResult{
		Protocol: protocol.ProtocolVersion,
		ClientID: client.id,
		TabID:    r.server.tabID,
		Server:   "a11ylens",
		Version:  Version,
	}))
}

func (r *MethodRouter) handleHealth(_ context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"status": "ok",
	}))
}

func (r *MethodRouter) handleStatus(_ context.Context, client *Client, req *protocol.RequestFrame) {
	status := map[string]any{
		"clients": r.server.ClientCount(),
		"tabId":   r.server.tabID,
		"version": Version,
	}
	if r.server.statusFn != nil {
		for k, v := range r.server.statusFn() {
			status[k] = v
		}
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, status))
}
