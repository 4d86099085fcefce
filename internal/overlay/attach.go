package overlay

import (
	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// DefaultLayer receives HIGHLIGHT events that name no layer.
const DefaultLayer = LayerInspector

// Attach makes the renderer consume HIGHLIGHT and LAYER_TOGGLE_REQUEST events
// from b. The returned func detaches it.
func (r *Renderer) Attach(b *bus.Bus) func() {
	return bus.Dispatcher{
		Highlight:          r.onHighlight,
		LayerToggleRequest: r.onLayerToggle,
	}.Subscribe(b)
}

func (r *Renderer) onHighlight(_ bus.Event, h bus.Highlight) {
	layerName := h.Layer
	if layerName == "" {
		layerName = DefaultLayer
	}
	if h.Clear {
		r.Clear(layerName, h.Selector)
		return
	}
	if h.Selector == "" {
		return
	}
	// The element may not exist (yet); the record is kept and drawn once it does.
	el := dom.QuerySelector(r.doc, h.Selector)
	r.Publish(layerName, h.Selector, el, h.Message, h.IsValid, h.Styles)
}

func (r *Renderer) onLayerToggle(_ bus.Event, req bus.LayerToggleRequest) {
	if req.Layer == "" {
		return
	}
	r.SetLayerVisible(req.Layer, req.Visible)
}
