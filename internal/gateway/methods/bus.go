package methods

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// Receiver accepts events relayed from a panel bus.
type Receiver interface {
	Receive(ev bus.Event)
}

// BusMethods handles bus.publish: the panel side of the bus relays its
// events through it.
type BusMethods struct {
	recv Receiver
}

func NewBusMethods(recv Receiver) *BusMethods {
	return &BusMethods{recv: recv}
}

func (m *BusMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodBusPublish, m.handlePublish)
}

func (m *BusMethods) handlePublish(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if len(req.Params) == 0 {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "event is required"))
		return
	}
	var ev bus.Event
	if err := json.Unmarshal(req.Params, &ev); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid event: "+err.Error()))
		return
	}
	if ev.ID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "event id is required"))
		return
	}

	slog.Debug("gateway.bus_publish", "client", client.ID(), "type", ev.Type(), "id", ev.ID)
	m.recv.Receive(ev)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"id":   ev.ID,
		"type": ev.Type(),
	}))
}
