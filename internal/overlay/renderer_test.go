package overlay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/dom/memdoc"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

const page = `<html><body>
<button id="a">A</button>
<button id="b">B</button>
<span id="empty"></span>
</body></html>`

type fixture struct {
	doc     *memdoc.Document
	sched   *scheduler.Manual
	surface *MemorySurface
	r       *Renderer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := memdoc.MustParse(page)
	d.MustLayout("#a", dom.Rect{X: 10.4, Y: 20.6, Width: 100, Height: 30})
	d.MustLayout("#b", dom.Rect{X: 10, Y: 80, Width: 100, Height: 30})
	s := scheduler.NewManual()
	surf := NewMemorySurface()
	r := New(d, d, s, surf, Options{})
	r.Start()
	s.Frame()
	return &fixture{doc: d, sched: s, surface: surf, r: r}
}

func (f *fixture) el(id string) dom.Element { return f.doc.ElementByID(id) }

func TestPublish_PlacesRoundedBox(t *testing.T) {
	f := newFixture(t)
	if !f.surface.Mounted() {
		t.Fatal("root container not mounted on start")
	}
	f.r.Publish(LayerInspector, "button#a", f.el("a"), "button: Save", true, nil)
	f.sched.Frame()

	box, ok := f.surface.Box(LayerInspector, "button#a")
	if !ok {
		t.Fatal("box not drawn")
	}
	want := dom.Rect{X: 10, Y: 21, Width: 100, Height: 30}
	if box.Rect != want || box.Hidden {
		t.Errorf("box = %+v, want rect %+v visible", box, want)
	}
	if box.Styles != DefaultPalette.Valid {
		t.Errorf("styles = %+v, want the valid palette", box.Styles)
	}
}

func TestScrollBurstCoalescesIntoOneFlush(t *testing.T) {
	f := newFixture(t)
	f.r.Publish(LayerInspector, "button#a", f.el("a"), "", true, nil)
	f.sched.Frame()
	applies, flushes := f.surface.Applies(), f.r.Flushes()

	for i := 0; i < 10; i++ {
		f.doc.ScrollBy(0, 1)
	}
	f.doc.DispatchResize(800, 600)
	f.sched.Frame()

	if got := f.r.Flushes() - flushes; got != 1 {
		t.Errorf("flushes for burst = %d, want 1", got)
	}
	if got := f.surface.Applies() - applies; got != 1 {
		t.Errorf("surface applies for burst = %d, want 1", got)
	}
	box, _ := f.surface.Box(LayerInspector, "button#a")
	if box.Rect.Y != 11 {
		t.Errorf("box Y after scrolling 10px = %v, want 11", box.Rect.Y)
	}
}

func TestDetachedAndZeroSizeAreHiddenNotPruned(t *testing.T) {
	f := newFixture(t)
	f.r.Publish(LayerInspector, "button#a", f.el("a"), "", true, nil)
	f.r.Publish(LayerInspector, "button#b", f.el("b"), "", false, nil)
	f.r.Publish(LayerInspector, "span#empty", f.el("empty"), "", false, nil)
	f.sched.Frame()

	if box, _ := f.surface.Box(LayerInspector, "span#empty"); !box.Hidden {
		t.Error("zero-size box should be hidden")
	}
	if box, _ := f.surface.Box(LayerInspector, "button#b"); box.Hidden || box.Styles != DefaultPalette.Invalid {
		t.Errorf("sibling of a zero-size box not drawn correctly: %+v", box)
	}

	f.doc.Remove(f.el("a"))
	f.doc.DispatchScroll()
	f.sched.Frame()

	if box, _ := f.surface.Box(LayerInspector, "button#a"); !box.Hidden {
		t.Error("detached element's box should be hidden")
	}
	if _, ok := f.r.Record(LayerInspector, "button#a"); !ok {
		t.Error("record for detached element was pruned")
	}
}

func TestLayerToggleRestoresIdenticalBoxes(t *testing.T) {
	f := newFixture(t)
	f.r.Publish(LayerInspector, "button#a", f.el("a"), "one", true, nil)
	f.r.Publish(LayerInspector, "button#b", f.el("b"), "two", false, nil)
	f.sched.Frame()
	before := f.surface.Boxes(LayerInspector)

	hidden, shown := false, true
	f.r.SetLayerVisible(LayerInspector, &hidden)
	f.sched.Frame()
	if f.surface.LayerVisible(LayerInspector) {
		t.Fatal("layer still visible")
	}
	f.r.SetLayerVisible(LayerInspector, &shown)
	f.sched.Frame()

	after := f.surface.Boxes(LayerInspector)
	if len(after) != len(before) {
		t.Fatalf("box count %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("box %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if !f.surface.LayerVisible(LayerInspector) {
		t.Error("layer not visible again")
	}

	f.r.SetLayerVisible(LayerInspector, nil)
	if f.r.Layers()[0].Visible {
		t.Error("nil visibility should flip the layer")
	}
}

func TestFocusLayerPulseReverts(t *testing.T) {
	f := newFixture(t)
	f.r.Publish(LayerFocus, "button#a", f.el("a"), "", true, nil)
	f.sched.Frame()
	if box, _ := f.surface.Box(LayerFocus, "button#a"); !box.Pulse {
		t.Fatal("focus change did not pulse")
	}

	f.sched.Advance(DefaultPulseDuration)
	if box, _ := f.surface.Box(LayerFocus, "button#a"); box.Pulse {
		t.Error("pulse did not revert after the pulse duration")
	}
}

func TestFocusLayerNewerChangeCancelsRevert(t *testing.T) {
	f := newFixture(t)
	f.r.Publish(LayerFocus, "button#a", f.el("a"), "", true, nil)
	f.sched.Advance(time.Second)
	f.r.Publish(LayerFocus, "button#b", f.el("b"), "", true, nil)
	// Past the first pulse's revert time, before the second one's.
	f.sched.Advance(1400 * time.Millisecond)

	if box, _ := f.surface.Box(LayerFocus, "button#b"); !box.Pulse {
		t.Error("second pulse was cut short by the first one's revert")
	}
	f.sched.Advance(time.Second)
	if box, _ := f.surface.Box(LayerFocus, "button#b"); box.Pulse {
		t.Error("second pulse never reverted")
	}
}

func TestPlainLayerDoesNotPulse(t *testing.T) {
	f := newFixture(t)
	f.r.Publish(LayerInspector, "button#a", f.el("a"), "", true, nil)
	f.sched.Frame()
	if box, _ := f.surface.Box(LayerInspector, "button#a"); box.Pulse {
		t.Error("plain layer pulsed")
	}
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	f.r.Publish(LayerInspector, "button#a", f.el("a"), "", true, nil)
	f.r.Publish(LayerInspector, "button#b", f.el("b"), "", true, nil)
	f.sched.Frame()

	f.r.Clear(LayerInspector, "button#a")
	f.sched.Frame()
	if got := len(f.surface.Boxes(LayerInspector)); got != 1 {
		t.Fatalf("boxes after single clear = %d, want 1", got)
	}

	f.r.Clear(LayerInspector, "")
	f.sched.Frame()
	if got := len(f.surface.Boxes(LayerInspector)); got != 0 {
		t.Errorf("boxes after layer clear = %d, want 0", got)
	}
}

func TestStopCancelsPendingWork(t *testing.T) {
	f := newFixture(t)
	f.r.Publish(LayerFocus, "button#a", f.el("a"), "", true, nil)
	if f.sched.Pending() == 0 {
		t.Fatal("expected a pending frame and pulse timer")
	}
	flushes := f.r.Flushes()

	f.r.Stop(context.Background())
	f.r.Stop(context.Background())

	if f.sched.Pending() != 0 {
		t.Errorf("pending timers after Stop = %d, want 0", f.sched.Pending())
	}
	f.sched.Advance(5 * time.Second)
	if f.r.Flushes() != flushes {
		t.Error("flush ran after Stop")
	}
	if f.surface.Mounted() {
		t.Error("surface not destroyed")
	}
	if n := f.doc.ListenerCount(); n != 0 {
		t.Errorf("listeners after Stop = %d, want 0", n)
	}
}

func TestAttachConsumesBusEvents(t *testing.T) {
	f := newFixture(t)
	b := bus.New(bus.SidePage, nil)
	detach := f.r.Attach(b)
	defer detach()
	ctx := context.Background()

	b.Publish(ctx, bus.Event{Data: bus.Highlight{Selector: "#b", Message: "from panel", IsValid: true}})
	b.Publish(ctx, bus.Event{Data: bus.Highlight{Selector: "#late", Layer: "audit"}})
	f.sched.Frame()

	if box, ok := f.surface.Box(DefaultLayer, "#b"); !ok || box.Message != "from panel" {
		t.Fatalf("HIGHLIGHT not drawn on the default layer: %+v", box)
	}
	if box, ok := f.surface.Box("audit", "#late"); !ok || !box.Hidden {
		t.Errorf("highlight for a missing element should be kept hidden: %+v ok=%v", box, ok)
	}

	if _, err := f.doc.AppendHTML("body", `<p id="late">now here</p>`); err != nil {
		t.Fatal(err)
	}
	f.doc.MustLayout("#late", dom.Rect{Width: 50, Height: 10})
	f.doc.DispatchScroll()
	f.sched.Frame()
	if box, _ := f.surface.Box("audit", "#late"); box.Hidden {
		t.Error("record was not drawn once its element appeared")
	}

	off := false
	b.Publish(ctx, bus.Event{Data: bus.LayerToggleRequest{Layer: "audit", Visible: &off}})
	b.Publish(ctx, bus.Event{Data: bus.Highlight{Selector: "#b", Clear: true}})
	f.sched.Frame()

	if f.surface.LayerVisible("audit") {
		t.Error("LAYER_TOGGLE_REQUEST did not hide the layer")
	}
	if _, ok := f.surface.Box(DefaultLayer, "#b"); ok {
		t.Error("clear:true did not remove the box")
	}
}

// failingSurface fails the next n Apply calls, then delegates.
type failingSurface struct {
	*MemorySurface
	fail int
}

func (s *failingSurface) Apply(ctx context.Context, ops []Op) error {
	if s.fail > 0 {
		s.fail--
		return errors.New("evaluate: target closed")
	}
	return s.MemorySurface.Apply(ctx, ops)
}

func TestApplyFailureKeepsStructuralOps(t *testing.T) {
	d := memdoc.MustParse(page)
	d.MustLayout("#a", dom.Rect{X: 10, Y: 20, Width: 100, Height: 30})
	d.MustLayout("#b", dom.Rect{X: 10, Y: 80, Width: 100, Height: 30})
	s := scheduler.NewManual()
	surf := &failingSurface{MemorySurface: NewMemorySurface()}
	r := New(d, d, s, surf, Options{})
	r.Start()
	r.Publish(LayerInspector, "button#a", d.ElementByID("a"), "", true, nil)
	r.Publish(LayerInspectorDebug, "button#b", d.ElementByID("b"), "", true, nil)
	s.Frame()
	if _, ok := surf.Box(LayerInspector, "button#a"); !ok {
		t.Fatal("box not drawn")
	}

	surf.fail = 1
	r.Clear(LayerInspector, "button#a")
	hidden := false
	r.SetLayerVisible(LayerInspectorDebug, &hidden)
	s.Frame()
	if _, ok := surf.Box(LayerInspector, "button#a"); !ok {
		t.Fatal("failed flush should not have reached the surface")
	}

	s.Advance(applyRetryDelay + scheduler.FrameInterval)
	if _, ok := surf.Box(LayerInspector, "button#a"); ok {
		t.Error("cleared box still drawn after the retry")
	}
	if surf.LayerVisible(LayerInspectorDebug) {
		t.Error("hidden layer still visible on the surface after the retry")
	}
	if _, ok := surf.Box(LayerInspectorDebug, "button#b"); !ok {
		t.Error("records of a hidden layer must survive the retry")
	}
	if n := s.Pending(); n != 0 {
		t.Errorf("timers left after recovery = %d, want 0", n)
	}
}

func TestStopCancelsApplyRetry(t *testing.T) {
	d := memdoc.MustParse(page)
	s := scheduler.NewManual()
	surf := &failingSurface{MemorySurface: NewMemorySurface(), fail: 1}
	r := New(d, d, s, surf, Options{})
	r.Start()
	s.Frame()
	r.Stop(context.Background())
	if n := s.Pending(); n != 0 {
		t.Errorf("timers left after Stop = %d, want 0", n)
	}
}

func TestNormalizeLayerName(t *testing.T) {
	long := strings.Repeat("ab", 40)
	tests := []struct{ in, want string }{
		{"", DefaultLayer},
		{"---", DefaultLayer},
		{"  Focus ", LayerFocus},
		{"inspector_debug", LayerInspectorDebug},
		{"Inspector Selected", LayerInspectorSelected},
		{"debug", LayerInspectorDebug},
		{"selected", LayerInspectorSelected},
		{"My Layer!", "my-layer"},
		{"--contrast  issues--", "contrast-issues"},
		{long, long[:maxLayerName]},
	}
	for _, tt := range tests {
		if got := NormalizeLayerName(tt.in); got != tt.want {
			t.Errorf("NormalizeLayerName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
