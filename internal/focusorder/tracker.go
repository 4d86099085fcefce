package focusorder

import (
	"context"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
)

// Tracker follows page focus and keeps a single highlight on the "focus"
// layer for the focused element.
type Tracker struct {
	res     *resolver.Resolver
	win     dom.Window
	bus     *bus.Bus
	current string
	remove  func()
}

func NewTracker(res *resolver.Resolver, win dom.Window, b *bus.Bus) *Tracker {
	return &Tracker{res: res, win: win, bus: b}
}

// Start begins listening for focus changes.
func (t *Tracker) Start() {
	if t.remove != nil {
		return
	}
	t.remove = t.win.OnFocus(t.onFocus)
}

// Current returns the selector of the highlighted element.
func (t *Tracker) Current() string { return t.current }

func (t *Tracker) onFocus(el dom.Element) {
	ctx := context.Background()
	if el == nil || dom.InReservedTree(el) {
		t.clear(ctx)
		return
	}
	sel := t.res.GenerateSelector(el)
	if sel == "" || sel == t.current {
		return
	}
	t.clear(ctx)
	t.current = sel

	msg := resolver.Role(el)
	if name := t.res.AccessibleName(el); name != "" {
		msg += ": " + name
	}
	t.bus.Publish(ctx, bus.Event{Data: bus.Highlight{
		Selector: sel,
		Message:  msg,
		IsValid:  resolver.IsFocusable(el),
		Layer:    overlay.LayerFocus,
	}})
}

func (t *Tracker) clear(ctx context.Context) {
	if t.current == "" {
		return
	}
	t.bus.Publish(ctx, bus.Event{Data: bus.Highlight{Selector: t.current, Clear: true, Layer: overlay.LayerFocus}})
	t.current = ""
}

// Stop clears the highlight and stops listening. Idempotent.
func (t *Tracker) Stop() {
	if t.remove == nil {
		return
	}
	t.remove()
	t.remove = nil
	t.clear(context.Background())
}
