// Package panel is the panel side of a11ylens: a websocket client for the
// gateway, a panel bus bridged over it, and a terminal UI built on both.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// ErrClosed is returned by calls on a closed or dropped connection.
var ErrClosed = errors.New("panel: connection closed")

// DialOptions configures Dial.
type DialOptions struct {
	Token string
	// Name identifies this panel in gateway logs.
	Name   string
	Header http.Header
	// OnEvent receives every pushed event, in order, on a dedicated goroutine.
	OnEvent func(protocol.InboundEvent)
	Logger  *slog.Logger
}

// Client is an authenticated connection to a gateway.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger
	info   protocol.ConnectResult

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.InboundResponse
	onEvent func(protocol.InboundEvent)

	events    chan protocol.InboundEvent
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects to a gateway URL (ws://host:port/ws) and performs the connect
// handshake.
func Dial(ctx context.Context, url string, opts DialOptions) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("panel: dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		logger:  opts.Logger,
		pending: make(map[string]chan protocol.InboundResponse),
		onEvent: opts.OnEvent,
		events:  make(chan protocol.InboundEvent, 256),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatchLoop()

	if err := c.Call(ctx, protocol.MethodConnect, protocol.ConnectParams{Token: opts.Token, Client: opts.Name}, &c.info); err != nil {
		c.Close()
		return nil, fmt.Errorf("panel: connect: %w", err)
	}
	c.logger.Info("panel.connected", "url", url, "client_id", c.info.ClientID, "tab_id", c.info.TabID)
	return c, nil
}

// Info returns the connect handshake result.
func (c *Client) Info() protocol.ConnectResult { return c.info }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetOnEvent replaces the event handler.
func (c *Client) SetOnEvent(fn func(protocol.InboundEvent)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

// Call invokes method and decodes the payload into out (which may be nil).
// Gateway errors are returned as *protocol.ErrorShape.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	id := uuid.NewString()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return err
	}

	ch := make(chan protocol.InboundResponse, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("panel: send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			if resp.Error != nil {
				return resp.Error
			}
			return &protocol.ErrorShape{Code: protocol.ErrInternal, Message: method + " failed"}
		}
		if out == nil || len(resp.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			return fmt.Errorf("panel: decode %s: %w", method, err)
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		frameType, err := protocol.ParseFrameType(data)
		if err != nil {
			c.logger.Warn("panel.bad_frame", "error", err)
			continue
		}
		switch frameType {
		case protocol.FrameTypeResponse:
			var resp protocol.InboundResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				c.logger.Warn("panel.bad_response", "error", err)
				continue
			}
			c.mu.Lock()
			ch := c.pending[resp.ID]
			c.mu.Unlock()
			if ch != nil {
				ch <- resp
			}
		case protocol.FrameTypeEvent:
			var ev protocol.InboundEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				c.logger.Warn("panel.bad_event", "error", err)
				continue
			}
			select {
			case c.events <- ev:
			default:
				c.logger.Warn("panel.event_dropped", "event", ev.Event, "seq", ev.Seq)
			}
		}
	}
}

// dispatchLoop runs handlers off the read goroutine so they may Call.
func (c *Client) dispatchLoop() {
	for {
		select {
		case ev := <-c.events:
			c.mu.Lock()
			fn := c.onEvent
			c.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if err == nil {
			err = ErrClosed
		}
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

// Close ends the connection. Idempotent.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}
