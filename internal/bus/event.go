package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
)

// EventType is the wire discriminator of an Event.
type EventType string

const (
	TypeHighlight          EventType = "HIGHLIGHT"
	TypeLayerToggleRequest EventType = "LAYER_TOGGLE_REQUEST"
	TypeInspectorCommand   EventType = "INSPECTOR_COMMAND"
	TypeFocusOrderCommand  EventType = "FOCUS_ORDER_COMMAND"
	TypeFocusOrderStats    EventType = "FOCUS_ORDER_STATS"
	TypeDOMChange          EventType = "DOM_CHANGE"
	TypeElementSelected    EventType = "ELEMENT_SELECTED"
)

// ErrUnknownEventType is returned when decoding an event whose type has no payload.
var ErrUnknownEventType = errors.New("unknown event type")

// Payload is implemented only by the payload types in this package.
type Payload interface {
	EventType() EventType
	payload()
}

// Event is the envelope that crosses the page/panel boundary.
type Event struct {
	// Timestamp is Unix milliseconds. Publish fills it when zero.
	Timestamp int64
	TabID     string
	// ID is stamped on publish and used to drop repeated deliveries.
	ID   string
	Data Payload
}

// Type returns the payload's discriminator, or "" for an empty event.
func (e Event) Type() EventType {
	if e.Data == nil {
		return ""
	}
	return e.Data.EventType()
}

// HighlightStyles overrides the default box colors.
type HighlightStyles struct {
	Border            string `json:"border,omitempty"`
	Background        string `json:"background,omitempty"`
	MessageBackground string `json:"messageBackground,omitempty"`
}

// Highlight adds, updates or (with Clear) removes a highlight box.
type Highlight struct {
	Selector string           `json:"selector"`
	Message  string           `json:"message"`
	IsValid  bool             `json:"isValid"`
	Clear    bool             `json:"clear,omitempty"`
	Layer    string           `json:"layer,omitempty"`
	Styles   *HighlightStyles `json:"styles,omitempty"`
}

// LayerToggleRequest shows, hides or (Visible nil) flips a layer.
type LayerToggleRequest struct {
	Layer   string `json:"layer"`
	Visible *bool  `json:"visible,omitempty"`
}

// InspectorCommandKind enumerates INSPECTOR_COMMAND verbs.
type InspectorCommandKind string

const (
	InspectorStart                InspectorCommandKind = "start"
	InspectorStop                 InspectorCommandKind = "stop"
	InspectorToggleDebug          InspectorCommandKind = "toggleDebug"
	InspectorToggleDeepInspection InspectorCommandKind = "toggleDeepInspection"
	InspectorToggleClickThrough   InspectorCommandKind = "toggleClickThrough"
)

type InspectorCommand struct {
	Command InspectorCommandKind `json:"command"`
}

// FocusOrderCommandKind enumerates FOCUS_ORDER_COMMAND verbs.
type FocusOrderCommandKind string

const (
	FocusOrderStart  FocusOrderCommandKind = "start"
	FocusOrderStop   FocusOrderCommandKind = "stop"
	FocusOrderToggle FocusOrderCommandKind = "toggle"
)

type FocusOrderCommand struct {
	Command FocusOrderCommandKind `json:"command"`
}

// FocusOrderEntry is the serializable form of one tab stop.
type FocusOrderEntry struct {
	Index    int      `json:"index"`
	Selector string   `json:"selector"`
	TabIndex *int     `json:"tabIndex"`
	Rect     dom.Rect `json:"rect"`
}

// FocusOrderStats is published once per visualizer start.
type FocusOrderStats struct {
	Total            int               `json:"total"`
	PositiveTabIndex int               `json:"positiveTabIndex"`
	Entries          []FocusOrderEntry `json:"entries,omitempty"`
}

// DOMChange summarizes a debounced batch of mutations of one kind.
type DOMChange struct {
	Elements   []string `json:"elements"`
	ChangeType string   `json:"changeType"`
	Timestamp  int64    `json:"timestamp"`
}

// ElementSelected carries the element the user clicked while inspecting.
type ElementSelected struct {
	Info resolver.ElementInfo `json:"info"`
}

func (Highlight) EventType() EventType          { return TypeHighlight }
func (LayerToggleRequest) EventType() EventType { return TypeLayerToggleRequest }
func (InspectorCommand) EventType() EventType   { return TypeInspectorCommand }
func (FocusOrderCommand) EventType() EventType  { return TypeFocusOrderCommand }
func (FocusOrderStats) EventType() EventType    { return TypeFocusOrderStats }
func (DOMChange) EventType() EventType          { return TypeDOMChange }
func (ElementSelected) EventType() EventType    { return TypeElementSelected }

func (Highlight) payload()          {}
func (LayerToggleRequest) payload() {}
func (InspectorCommand) payload()   {}
func (FocusOrderCommand) payload()  {}
func (FocusOrderStats) payload()    {}
func (DOMChange) payload()          {}
func (ElementSelected) payload()    {}

// EventTypes lists every known type in declaration order.
var EventTypes = []EventType{
	TypeHighlight,
	TypeLayerToggleRequest,
	TypeInspectorCommand,
	TypeFocusOrderCommand,
	TypeFocusOrderStats,
	TypeDOMChange,
	TypeElementSelected,
}

// newPayload returns a pointer to a zero payload for t.
func newPayload(t EventType) (any, error) {
	switch t {
	case TypeHighlight:
		return &Highlight{}, nil
	case TypeLayerToggleRequest:
		return &LayerToggleRequest{}, nil
	case TypeInspectorCommand:
		return &InspectorCommand{}, nil
	case TypeFocusOrderCommand:
		return &FocusOrderCommand{}, nil
	case TypeFocusOrderStats:
		return &FocusOrderStats{}, nil
	case TypeDOMChange:
		return &DOMChange{}, nil
	case TypeElementSelected:
		return &ElementSelected{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
}

// deref turns the pointer from newPayload back into a Payload value.
func deref(p any) Payload {
	switch v := p.(type) {
	case *Highlight:
		return *v
	case *LayerToggleRequest:
		return *v
	case *InspectorCommand:
		return *v
	case *FocusOrderCommand:
		return *v
	case *FocusOrderStats:
		return *v
	case *DOMChange:
		return *v
	case *ElementSelected:
		return *v
	}
	return nil
}

type wireEvent struct {
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	TabID     string          `json:"tabId,omitempty"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Data == nil {
		return nil, errors.New("bus: event has no payload")
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("bus: marshal %s payload: %w", e.Type(), err)
	}
	return json.Marshal(wireEvent{
		Type:      e.Type(),
		Timestamp: e.Timestamp,
		TabID:     e.TabID,
		ID:        e.ID,
		Data:      data,
	})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("bus: decode event: %w", err)
	}
	p, err := newPayload(w.Type)
	if err != nil {
		return err
	}
	if len(w.Data) > 0 && string(w.Data) != "null" {
		if err := json.Unmarshal(w.Data, p); err != nil {
			return fmt.Errorf("bus: decode %s payload: %w", w.Type, err)
		}
	}
	*e = Event{Timestamp: w.Timestamp, TabID: w.TabID, ID: w.ID, Data: deref(p)}
	return nil
}
