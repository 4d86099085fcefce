package overlay

import (
	"context"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// OpKind is a single mutation of the overlay surface.
type OpKind string

const (
	// OpMount creates the root container. Sent once, before anything else.
	OpMount OpKind = "mount"
	// OpLayer creates a layer container if needed and sets its opacity.
	OpLayer OpKind = "layer"
	// OpPlace positions a box (transform plus explicit width/height) and shows it.
	OpPlace OpKind = "place"
	// OpHide keeps a box but stops drawing it.
	OpHide OpKind = "hide"
	// OpRemove deletes a box.
	OpRemove OpKind = "remove"
)

// Op is one entry of the batch a flush hands to the surface.
type Op struct {
	Kind     OpKind              `json:"kind"`
	Layer    string              `json:"layer"`
	Selector string              `json:"selector,omitempty"`
	Rect     dom.Rect            `json:"rect,omitempty"`
	Message  string              `json:"message,omitempty"`
	IsValid  bool                `json:"isValid,omitempty"`
	Styles   bus.HighlightStyles `json:"styles,omitempty"`
	Visible  bool                `json:"visible,omitempty"`
	Pulse    bool                `json:"pulse,omitempty"`
}

// Surface draws boxes. The browser implementation batches a flush into one
// page evaluation; MemorySurface records state for tests and offline runs.
type Surface interface {
	Apply(ctx context.Context, ops []Op) error
	Destroy(ctx context.Context) error
}

// Box is the drawn state of one (layer, selector) slot.
type Box struct {
	Layer    string
	Selector string
	Rect     dom.Rect
	Message  string
	IsValid  bool
	Styles   bus.HighlightStyles
	Hidden   bool
	Pulse    bool
}

type boxKey struct{ layer, selector string }

// MemorySurface is an in-memory Surface.
type MemorySurface struct {
	mu        sync.Mutex
	mounted   bool
	destroyed bool
	layers    map[string]bool
	boxes     map[boxKey]Box
	applies   int
	ops       int
}

func NewMemorySurface() *MemorySurface {
	return &MemorySurface{
		layers: make(map[string]bool),
		boxes:  make(map[boxKey]Box),
	}
}

func (m *MemorySurface) Apply(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applies++
	m.ops += len(ops)
	for _, op := range ops {
		k := boxKey{op.Layer, op.Selector}
		switch op.Kind {
		case OpMount:
			m.mounted = true
			m.destroyed = false
		case OpLayer:
			m.layers[op.Layer] = op.Visible
		case OpPlace:
			m.boxes[k] = Box{
				Layer: op.Layer, Selector: op.Selector, Rect: op.Rect,
				Message: op.Message, IsValid: op.IsValid, Styles: op.Styles, Pulse: op.Pulse,
			}
		case OpHide:
			b := m.boxes[k]
			b.Layer, b.Selector, b.Hidden = op.Layer, op.Selector, true
			m.boxes[k] = b
		case OpRemove:
			delete(m.boxes, k)
		}
	}
	return nil
}

func (m *MemorySurface) Destroy(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = false
	m.destroyed = true
	m.layers = make(map[string]bool)
	m.boxes = make(map[boxKey]Box)
	return nil
}

// Mounted reports whether the root container exists.
func (m *MemorySurface) Mounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// LayerVisible reports a layer container's opacity state.
func (m *MemorySurface) LayerVisible(layer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layers[layer]
}

// Boxes returns the boxes of a layer sorted by selector, hidden ones included.
func (m *MemorySurface) Boxes(layer string) []Box {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Box
	for k, b := range m.boxes {
		if k.layer == layer {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Selector < out[j].Selector })
	return out
}

// Box returns one box.
func (m *MemorySurface) Box(layer, selector string) (Box, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boxes[boxKey{layer, selector}]
	return b, ok
}

// Applies returns the number of Apply calls (one per flush).
func (m *MemorySurface) Applies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applies
}
