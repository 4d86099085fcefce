package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// Client is one panel's websocket connection.
type Client struct {
	id            string
	name          string
	conn          *websocket.Conn
	server        *Server
	send          chan []byte
	closeOnce     sync.Once
	mu            sync.Mutex
	authenticated bool
}

func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: server,
		send:   make(chan []byte, 256),
	}
}

// Run starts the write pump and reads until the connection drops.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

// maxWSMessageSize bounds one frame. A captured element PNG is the largest
// thing a panel receives; requests are small.
const maxWSMessageSize = 512 * 1024

func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("gateway.read_error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.handleFrame(ctx, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error())
		return
	}
	if frameType != protocol.FrameTypeRequest {
		c.sendError("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType)
		return
	}

	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "malformed request: "+err.Error())
		return
	}
	if !c.Authenticated() && req.Method != protocol.MethodConnect {
		c.sendError(req.ID, protocol.ErrUnauthorized, "first request must be 'connect'")
		return
	}
	if !c.server.limiter.Allow(c.id) {
		c.SendResponse(&protocol.ResponseFrame{
			Type: protocol.FrameTypeResponse,
			ID:   req.ID,
			Error: &protocol.ErrorShape{
				Code:         protocol.ErrResourceExhausted,
				Message:      "rate limit exceeded",
				Retryable:    true,
				RetryAfterMs: 1000,
			},
		})
		return
	}
	c.server.router.Handle(ctx, c, &req)
}

// SendResponse queues a response frame.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("gateway.marshal_failed", "kind", "response", "error", err)
		data, _ = json.Marshal(protocol.NewErrorResponse(resp.ID, protocol.ErrInternal, "unencodable payload"))
	}
	c.enqueue(data, "response")
}

// SendEvent queues an event frame.
func (c *Client) SendEvent(event protocol.EventFrame) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("gateway.marshal_failed", "kind", "event", "event", event.Event, "error", err)
		return
	}
	c.enqueue(data, "event")
}

func (c *Client) enqueue(data []byte, kind string) {
	defer func() {
		// The send channel may close between the check and the send.
		if recover() != nil {
			slog.Debug("gateway.send_after_close", "client", c.id, "kind", kind)
		}
	}()
	select {
	case c.send <- data:
	default:
		slog.Warn("gateway.send_buffer_full", "client", c.id, "kind", kind)
	}
}

func (c *Client) sendError(id, code, message string) {
	c.SendResponse(protocol.NewErrorResponse(id, code, message))
}

func (c *Client) ID() string { return c.id }

// Name is the client label given on connect.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) authenticate(name string) {
	c.mu.Lock()
	c.authenticated = true
	c.name = name
	c.mu.Unlock()
}

// Close stops the write pump. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}
