package methods

import (
	"context"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/focusorder"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/internal/inspector"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/session"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// PageMethods reports the state of the page-side components:
// focusorder.entries, overlay.layers and inspector.state.
type PageMethods struct {
	sess *session.Session
}

func NewPageMethods(sess *session.Session) *PageMethods {
	return &PageMethods{sess: sess}
}

func (m *PageMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodFocusOrderEntries, m.handleFocusOrder)
	router.Register(protocol.MethodOverlayLayers, m.handleLayers)
	router.Register(protocol.MethodInspectorState, m.handleInspectorState)
}

// FocusOrderResult answers focusorder.entries. When the visualizer is off the
// order is computed without drawing anything.
type FocusOrderResult struct {
	Active bool `json:"active"`
	bus.FocusOrderStats
}

func (m *PageMethods) handleFocusOrder(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var (
		result   FocusOrderResult
		orderErr error
	)
	err := m.sess.Do(ctx, func() {
		v := m.sess.Visualizer()
		entries := v.Entries()
		result.Active = v.Active()
		if !result.Active {
			entries, orderErr = focusorder.Order(m.sess.Resolver())
		}
		result.FocusOrderStats = focusorder.Stats(entries, true)
	})
	if err == nil {
		err = orderErr
	}
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, result))
}

func (m *PageMethods) handleLayers(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var layers []overlay.LayerState
	if err := m.sess.Do(ctx, func() { layers = m.sess.Renderer().Layers() }); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"layers": layers}))
}

func (m *PageMethods) handleInspectorState(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var (
		state   inspector.State
		samples int
	)
	err := m.sess.Do(ctx, func() {
		c := m.sess.Controller()
		state, samples = c.State(), c.Samples()
	})
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"state":   state,
		"samples": samples,
	}))
}
