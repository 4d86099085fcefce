package panel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway/methods"
	"github.com/nextlevelbuilder/a11ylens/internal/inspector"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/pkg/browser"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// Panel owns the panel-side bus. Local publishes relay to the page through
// bus.publish; page events pushed by the gateway are delivered to it.
type Panel struct {
	client *Client
	bus    *bus.Bus
	logger *slog.Logger
	// relayErrs holds the relay error of an event until publish collects it.
	relayErrs sync.Map
}

// Connect dials the gateway and bridges a fresh panel bus over it.
func Connect(ctx context.Context, url string, opts DialOptions) (*Panel, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Panel{logger: opts.Logger}
	// The bus exists before the handshake; events may arrive right after it.
	p.bus = bus.New(bus.SidePanel, nil, bus.WithLogger(opts.Logger))
	userEvent := opts.OnEvent
	opts.OnEvent = func(ev protocol.InboundEvent) {
		p.onEvent(ev)
		if userEvent != nil {
			userEvent(ev)
		}
	}

	client, err := Dial(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	p.client = client
	p.bus.SetChannel(bus.ChannelFunc(p.relay))
	return p, nil
}

func (p *Panel) relay(ctx context.Context, ev bus.Event) error {
	err := p.client.Call(ctx, protocol.MethodBusPublish, ev, nil)
	if err != nil {
		p.relayErrs.Store(ev.ID, err)
	}
	return err
}

func (p *Panel) onEvent(ev protocol.InboundEvent) {
	switch ev.Event {
	case protocol.EventBus:
		var be bus.Event
		if err := json.Unmarshal(ev.Payload, &be); err != nil {
			p.logger.Warn("panel.bus_decode_failed", "seq", ev.Seq, "error", err)
			return
		}
		if !p.bus.Receive(be) {
			p.logger.Debug("panel.duplicate_dropped", "id", be.ID, "type", be.Type())
		}
	case protocol.EventShutdown:
		p.logger.Info("panel.gateway_shutdown")
	}
}

func (p *Panel) Bus() *bus.Bus         { return p.bus }
func (p *Panel) Client() *Client       { return p.client }
func (p *Panel) Done() <-chan struct{} { return p.client.Done() }
func (p *Panel) Close() error          { return p.client.Close() }

// Inspector sends an INSPECTOR_COMMAND.
func (p *Panel) Inspector(ctx context.Context, cmd bus.InspectorCommandKind) (bus.Event, error) {
	return p.publish(ctx, bus.InspectorCommand{Command: cmd})
}

// FocusOrder sends a FOCUS_ORDER_COMMAND.
func (p *Panel) FocusOrder(ctx context.Context, cmd bus.FocusOrderCommandKind) (bus.Event, error) {
	return p.publish(ctx, bus.FocusOrderCommand{Command: cmd})
}

// ToggleLayer shows, hides or (visible nil) flips a layer.
func (p *Panel) ToggleLayer(ctx context.Context, layer string, visible *bool) (bus.Event, error) {
	return p.publish(ctx, bus.LayerToggleRequest{Layer: overlay.NormalizeLayerName(layer), Visible: visible})
}

// Highlight asks the page to draw (or clear) a highlight.
func (p *Panel) Highlight(ctx context.Context, h bus.Highlight) (bus.Event, error) {
	return p.publish(ctx, h)
}

// publish returns the relay error, which the bus itself only logs.
func (p *Panel) publish(ctx context.Context, data bus.Payload) (bus.Event, error) {
	ev := p.bus.Publish(ctx, bus.Event{TabID: p.client.Info().TabID, Data: data})
	if err, ok := p.relayErrs.LoadAndDelete(ev.ID); ok {
		return ev, err.(error)
	}
	return ev, nil
}

func (p *Panel) ElementAt(ctx context.Context, x, y float64) (resolver.ElementInfo, error) {
	var info resolver.ElementInfo
	err := p.client.Call(ctx, protocol.MethodElementAt, protocol.ElementAtParams{X: x, Y: y}, &info)
	return info, err
}

func (p *Panel) ElementInfo(ctx context.Context, selector string) (resolver.ElementInfo, error) {
	var info resolver.ElementInfo
	err := p.client.Call(ctx, protocol.MethodElementInfo, protocol.SelectorParams{Selector: selector}, &info)
	return info, err
}

func (p *Panel) Capture(ctx context.Context, selector string) (protocol.CaptureResult, error) {
	var res protocol.CaptureResult
	err := p.client.Call(ctx, protocol.MethodElementCapture, protocol.SelectorParams{Selector: selector}, &res)
	return res, err
}

func (p *Panel) FocusOrderEntries(ctx context.Context) (methods.FocusOrderResult, error) {
	var res methods.FocusOrderResult
	err := p.client.Call(ctx, protocol.MethodFocusOrderEntries, nil, &res)
	return res, err
}

func (p *Panel) Layers(ctx context.Context) ([]overlay.LayerState, error) {
	var res struct {
		Layers []overlay.LayerState `json:"layers"`
	}
	err := p.client.Call(ctx, protocol.MethodOverlayLayers, nil, &res)
	return res.Layers, err
}

func (p *Panel) InspectorState(ctx context.Context) (inspector.State, error) {
	var res struct {
		State inspector.State `json:"state"`
	}
	err := p.client.Call(ctx, protocol.MethodInspectorState, nil, &res)
	return res.State, err
}

// AXTree fetches the browser's accessibility tree outline. Sessions without
// a browser reject the call as an unknown method.
func (p *Panel) AXTree(ctx context.Context, opts browser.AXOptions) (*browser.AXSnapshot, error) {
	var res browser.AXSnapshot
	if err := p.client.Call(ctx, protocol.MethodPageAXTree, opts, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (p *Panel) Status(ctx context.Context) (map[string]any, error) {
	var res map[string]any
	err := p.client.Call(ctx, protocol.MethodStatus, nil, &res)
	return res, err
}
