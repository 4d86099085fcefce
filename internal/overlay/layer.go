package overlay

import (
	"strings"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

// Well-known layer names.
const (
	LayerInspector         = "inspector"
	LayerInspectorDebug    = "inspector-debug"
	LayerInspectorSelected = "inspector-selected"
	LayerFocus             = "focus"
)

// maxLayerName bounds a custom layer name.
const maxLayerName = 64

// layerAliases maps short names typed by users onto the well-known layers.
var layerAliases = map[string]string{
	LayerInspector:         LayerInspector,
	LayerInspectorDebug:    LayerInspectorDebug,
	LayerInspectorSelected: LayerInspectorSelected,
	LayerFocus:             LayerFocus,
	"debug":                LayerInspectorDebug,
	"selected":             LayerInspectorSelected,
	"selection":            LayerInspectorSelected,
	"hover":                LayerInspector,
}

// NormalizeLayerName maps user input onto a layer name. Well-known layers and
// their aliases match case-insensitively, with spaces and underscores read
// as dashes. Anything else becomes a lowercase [a-z0-9-] slug of at most 64
// bytes. Input with nothing usable names DefaultLayer.
func NormalizeLayerName(name string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(c)
		default:
			dash = true
		}
	}
	slug := b.String()
	if l, ok := layerAliases[slug]; ok {
		return l
	}
	if len(slug) > maxLayerName {
		slug = strings.TrimRight(slug[:maxLayerName], "-")
	}
	if slug == "" {
		return DefaultLayer
	}
	return slug
}

// LayerKind selects a layer's render policy at creation time.
type LayerKind int

const (
	// KindPlain draws boxes as published.
	KindPlain LayerKind = iota
	// KindPulsing animates the box whenever the layer's active highlight
	// changes, then reverts after the pulse duration.
	KindPulsing
)

func (k LayerKind) String() string {
	if k == KindPulsing {
		return "pulsing"
	}
	return "plain"
}

// defaultKinds maps layer names to kinds for layers created implicitly by Publish.
var defaultKinds = map[string]LayerKind{
	LayerFocus: KindPulsing,
}

// HighlightData is the record held for one (layer, selector) slot. Element is
// a non-owning handle: a detached element hides the box, it does not remove
// the record.
type HighlightData struct {
	Element  dom.Element
	Selector string
	Message  string
	IsValid  bool
	Styles   *bus.HighlightStyles
}

type layer struct {
	name    string
	kind    LayerKind
	visible bool

	records map[string]*HighlightData
	order   []string

	// pulsing layers only
	active      string
	pulsing     bool
	cancelPulse scheduler.Cancel
}

func newLayer(name string, kind LayerKind) *layer {
	return &layer{
		name:    name,
		kind:    kind,
		visible: true,
		records: make(map[string]*HighlightData),
	}
}

func (l *layer) put(rec *HighlightData) (isNew bool) {
	if _, ok := l.records[rec.Selector]; !ok {
		l.order = append(l.order, rec.Selector)
		isNew = true
	}
	l.records[rec.Selector] = rec
	return isNew
}

func (l *layer) remove(selector string) bool {
	if _, ok := l.records[selector]; !ok {
		return false
	}
	delete(l.records, selector)
	for i, s := range l.order {
		if s == selector {
			l.order = append(l.order[:i:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *layer) stopPulse() {
	if l.cancelPulse != nil {
		l.cancelPulse()
		l.cancelPulse = nil
	}
	l.pulsing = false
}

// LayerState is a read-only summary of a layer.
type LayerState struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Visible   bool     `json:"visible"`
	Selectors []string `json:"selectors"`
}
