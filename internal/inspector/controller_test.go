package inspector

import (
	"testing"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/dom/memdoc"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

const page = `<html><body>
<main id="main">
  <div class="card"><button id="save" aria-label="Save"><span id="icon">S</span></button></div>
  <button id="nameless"></button>
</main>
</body></html>`

type fixture struct {
	doc        *memdoc.Document
	sched      *scheduler.Manual
	bus        *bus.Bus
	c          *Controller
	highlights []bus.Highlight
	selected   []bus.ElementSelected
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	doc := memdoc.MustParse(page)
	doc.MustLayout("#main", dom.Rect{Width: 400, Height: 300})
	doc.MustLayout(".card", dom.Rect{X: 10, Y: 10, Width: 200, Height: 100})
	doc.MustLayout("#save", dom.Rect{X: 20, Y: 20, Width: 80, Height: 30})
	doc.MustLayout("#icon", dom.Rect{X: 25, Y: 25, Width: 20, Height: 20})
	doc.MustLayout("#nameless", dom.Rect{X: 300, Y: 200, Width: 40, Height: 40})

	res, err := resolver.New(doc, resolver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{doc: doc, sched: scheduler.NewManual(), bus: bus.New(bus.SidePage, nil)}
	bus.Dispatcher{
		Highlight:       func(_ bus.Event, h bus.Highlight) { f.highlights = append(f.highlights, h) },
		ElementSelected: func(_ bus.Event, s bus.ElementSelected) { f.selected = append(f.selected, s) },
	}.Subscribe(f.bus)
	f.c = New(res, doc, f.sched, f.bus, opts)
	return f
}

// move dispatches a pointer sample and lets any trailing sample run.
func (f *fixture) move(x, y float64) {
	f.doc.DispatchPointerMove(x, y)
	f.sched.Advance(2 * scheduler.FrameInterval)
}

func (f *fixture) last() bus.Highlight {
	if len(f.highlights) == 0 {
		return bus.Highlight{}
	}
	return f.highlights[len(f.highlights)-1]
}

func TestStartStop_Affordances(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.Start()
	f.c.Start()
	if f.doc.Cursor() != CursorInspect || !f.doc.ClickInterception() {
		t.Errorf("after Start: cursor %q, interception %v", f.doc.Cursor(), f.doc.ClickInterception())
	}
	if n := f.doc.ListenerCount(); n != 2 {
		t.Errorf("listeners = %d, want 2", n)
	}

	f.c.Stop()
	f.c.Stop()
	if f.doc.Cursor() != CursorDefault || f.doc.ClickInterception() {
		t.Errorf("after Stop: cursor %q, interception %v", f.doc.Cursor(), f.doc.ClickInterception())
	}
	if n := f.doc.ListenerCount(); n != 0 {
		t.Errorf("listeners after Stop = %d", n)
	}
	clears := 0
	for _, h := range f.highlights {
		if h.Clear && h.Selector == "" {
			clears++
		}
	}
	if clears != 3 {
		t.Errorf("layer clears on Stop = %d, want 3", clears)
	}
}

func TestHover_ShallowPromotionAndLeave(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.Start()

	f.move(30, 30)
	h := f.last()
	if h.Selector != "button#save" || h.Layer != overlay.LayerInspector || h.Message != "button: Save" || !h.IsValid {
		t.Fatalf("hover = %+v, want promoted button#save on inspector", h)
	}

	// Same target again publishes nothing.
	n := len(f.highlights)
	f.move(32, 32)
	if len(f.highlights) != n {
		t.Errorf("re-hover of the same element republished")
	}

	f.move(320, 220)
	if got := f.highlights[n]; !got.Clear || got.Selector != "button#save" {
		t.Errorf("leaving should clear button#save first, got %+v", got)
	}
	if h := f.last(); h.Selector != "button#nameless" || h.IsValid {
		t.Errorf("nameless button = %+v, want invalid", h)
	}

	f.move(500, 500)
	if h := f.last(); !h.Clear || h.Selector != "button#nameless" {
		t.Errorf("moving off every element = %+v, want clear", h)
	}
	if f.c.State().Hovered != "" {
		t.Errorf("hovered = %q after miss", f.c.State().Hovered)
	}
}

func TestPointerThrottleKeepsTrailingSample(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.Start()

	f.doc.DispatchPointerMove(30, 30)
	f.doc.DispatchPointerMove(31, 31)
	f.doc.DispatchPointerMove(320, 220)
	if got := f.c.Samples(); got != 1 {
		t.Fatalf("samples within one interval = %d, want 1", got)
	}
	if f.sched.Pending() != 1 {
		t.Fatalf("pending trailing samples = %d, want 1", f.sched.Pending())
	}

	f.sched.Advance(2 * scheduler.FrameInterval)
	if got := f.c.Samples(); got != 2 {
		t.Errorf("samples after interval = %d, want 2", got)
	}
	if got := f.c.State().Hovered; got != "button#nameless" {
		t.Errorf("hovered = %q, want the last pointer position", got)
	}
}

func TestToggleDeepAndDebugRestart(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.Start()
	f.move(30, 30)

	f.c.ToggleDeep()
	if !f.c.State().Inspecting || f.c.State().Hovered != "" {
		t.Fatalf("deep toggle should restart with a fresh hover, state %+v", f.c.State())
	}
	f.move(30, 30)
	if h := f.last(); h.Selector != "span#icon" {
		t.Errorf("deep hover = %q, want the innermost span#icon", h.Selector)
	}

	f.c.ToggleDebug()
	f.move(30, 30)
	h := f.last()
	if h.Layer != overlay.LayerInspectorDebug {
		t.Errorf("debug hover layer = %q", h.Layer)
	}
	if h.Message == "" || h.Message == "generic" {
		t.Errorf("debug message not detailed: %q", h.Message)
	}

	// Toggles while idle only flip flags.
	f.c.Stop()
	f.c.ToggleDebug()
	if f.c.State().Inspecting {
		t.Error("toggle while idle started inspection")
	}
}

func TestClickSelectsPersistently(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.Start()

	if !f.doc.DispatchClick(30, 30) {
		t.Error("click was not intercepted")
	}
	if len(f.selected) != 1 || f.selected[0].Info.Selector != "button#save" {
		t.Fatalf("ELEMENT_SELECTED = %+v", f.selected)
	}
	if f.selected[0].Info.AccessibleName != "Save" {
		t.Errorf("selected name = %q", f.selected[0].Info.AccessibleName)
	}
	var pinned bool
	for _, h := range f.highlights {
		if h.Layer == overlay.LayerInspectorSelected && h.Selector == "button#save" && !h.Clear {
			pinned = true
		}
	}
	if !pinned {
		t.Error("no persistent highlight on the selected layer")
	}

	f.move(30, 30)
	f.move(500, 500)
	for _, h := range f.highlights {
		if h.Clear && h.Layer == overlay.LayerInspectorSelected {
			t.Errorf("hover cleared the selection: %+v", h)
		}
	}
	if f.c.State().Selected != "button#save" {
		t.Errorf("selected = %q", f.c.State().Selected)
	}
}

func TestClickThrough(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.Start()
	f.c.ToggleClickThrough()
	if f.doc.ClickInterception() {
		t.Error("click-through did not release interception immediately")
	}
	f.doc.DispatchClick(30, 30)
	if len(f.selected) != 0 {
		t.Error("click-through click selected an element")
	}
	f.c.ToggleClickThrough()
	if !f.doc.ClickInterception() {
		t.Error("interception not restored")
	}
}

func TestAttachCommands(t *testing.T) {
	f := newFixture(t, Options{})
	detach := f.c.Attach(f.bus)
	defer detach()

	send := func(k bus.InspectorCommandKind) {
		f.bus.Publish(t.Context(), bus.Event{Data: bus.InspectorCommand{Command: k}})
	}
	send(bus.InspectorStart)
	send(bus.InspectorToggleDeepInspection)
	send(bus.InspectorToggleDebug)
	send(bus.InspectorToggleClickThrough)
	s := f.c.State()
	if !s.Inspecting || !s.Deep || !s.Debug || !s.ClickThrough {
		t.Errorf("state after commands = %+v", s)
	}
	send(bus.InspectorStop)
	if f.c.State().Inspecting {
		t.Error("stop command ignored")
	}
}

func TestHoverDrawsThroughRenderer(t *testing.T) {
	f := newFixture(t, Options{})
	surface := overlay.NewMemorySurface()
	r := overlay.New(f.doc, f.doc, f.sched, surface, overlay.Options{})
	r.Start()
	defer r.Stop(t.Context())
	detach := r.Attach(f.bus)
	defer detach()

	f.c.Start()
	f.move(30, 30)
	box, ok := surface.Box(overlay.LayerInspector, "button#save")
	if !ok {
		t.Fatal("hovered element not drawn")
	}
	if box.Rect != (dom.Rect{X: 20, Y: 20, Width: 80, Height: 30}) {
		t.Errorf("box rect = %+v", box.Rect)
	}

	f.c.Stop()
	f.sched.Frame()
	if boxes := surface.Boxes(overlay.LayerInspector); len(boxes) != 0 {
		t.Errorf("boxes after Stop = %d", len(boxes))
	}
}
