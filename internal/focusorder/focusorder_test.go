package focusorder

import (
	"context"
	"math"
	"testing"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/dom/memdoc"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

const examplePage = `<html><body>
<a id="a1" tabindex="1">first</a>
<button id="b1" tabindex="3">second</button>
<input id="i1">
<div id="d1" tabindex="0">fourth</div>
</body></html>`

type harness struct {
	doc    *memdoc.Document
	res    *resolver.Resolver
	sched  *scheduler.Manual
	canvas *MemoryCanvas
	bus    *bus.Bus
	stats  []bus.FocusOrderStats
	v      *Visualizer
}

func newHarness(t *testing.T, html string, opts Options) *harness {
	t.Helper()
	d := memdoc.MustParse(html)
	res, err := resolver.New(d, resolver.Options{})
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{doc: d, res: res, sched: scheduler.NewManual(), canvas: NewMemoryCanvas(), bus: bus.New(bus.SidePage, nil)}
	bus.Dispatcher{FocusOrderStats: func(_ bus.Event, s bus.FocusOrderStats) { h.stats = append(h.stats, s) }}.Subscribe(h.bus)
	h.v = New(res, d, h.sched, h.canvas, h.bus, opts)
	return h
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i], _ = e.Element.Attr("id")
	}
	return out
}

func TestStart_ExampleOrder(t *testing.T) {
	h := newHarness(t, examplePage, Options{})
	if err := h.v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{"a1", "b1", "i1", "d1"}
	got := ids(h.v.Entries())
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	for i, id := range want {
		v, ok := h.doc.ElementByID(id).Attr(MarkerAttr)
		if !ok || v != string(rune('1'+i)) {
			t.Errorf("#%s %s = %q, want %d", id, MarkerAttr, v, i+1)
		}
	}

	if len(h.stats) != 1 {
		t.Fatalf("stats published %d times, want 1", len(h.stats))
	}
	if s := h.stats[0]; s.Total != 4 || s.PositiveTabIndex != 2 {
		t.Errorf("stats = %+v, want total 4 positiveTabIndex 2", s)
	}
	if h.stats[0].Entries != nil {
		t.Error("entries included without IncludeEntries")
	}

	// A second Start while active publishes nothing new.
	_ = h.v.Start(context.Background())
	if len(h.stats) != 1 {
		t.Errorf("stats published again on redundant Start")
	}
}

func TestOrder_TieBreaksAndNegative(t *testing.T) {
	h := newHarness(t, `<html><body>
<button id="x" tabindex="-1">neg</button>
<button id="p2a" tabindex="2">p2a</button>
<a id="plain" href="#">plain</a>
<button id="p1" tabindex="1">p1</button>
<button id="p2b" tabindex="2">p2b</button>
<span id="bad" tabindex="abc">bad</span>
<input type="hidden" id="hidden">
<a11ylens-overlay><button id="ours">tool</button></a11ylens-overlay>
</body></html>`, Options{})

	entries, err := Order(h.res)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"p1", "p2a", "p2b", "x", "plain", "bad"}
	got := ids(entries)
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if entries[5].TabIndex != nil {
		t.Error("unparsable tabindex should be nil")
	}
}

func TestOrder_SkipsUnfocusable(t *testing.T) {
	h := newHarness(t, `<html><body>
<main id="m" tabindex="-1"><a id="a1" href="#">link</a></main>
<button id="b" disabled tabindex="2">off</button>
<input id="i" disabled>
<div id="d" tabindex="0">div</div>
</body></html>`, Options{})

	entries, err := Order(h.res)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a1", "d"}
	got := ids(entries)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if s := Stats(entries, false); s.Total != 2 || s.PositiveTabIndex != 0 {
		t.Errorf("stats = %+v, want total 2 positiveTabIndex 0", s)
	}
}

func TestStop_IdempotentTeardown(t *testing.T) {
	h := newHarness(t, examplePage, Options{})
	ctx := context.Background()
	if err := h.v.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if s, c := h.canvas.Injected(); s != 1 || c != 1 {
		t.Fatalf("injected = %d sheets, %d containers; want 1, 1", s, c)
	}

	h.v.Stop(ctx)
	h.v.Stop(ctx)

	marked, err := h.doc.QuerySelectorAll("[" + MarkerAttr + "]")
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 0 {
		t.Errorf("%d elements still carry %s", len(marked), MarkerAttr)
	}
	if s, c := h.canvas.Injected(); s != 0 || c != 0 {
		t.Errorf("injected after stop = %d sheets, %d containers; want 0, 0", s, c)
	}
	if h.v.Active() || h.v.Entries() != nil {
		t.Error("visualizer still active after Stop")
	}
	if n := h.doc.ListenerCount(); n != 0 {
		t.Errorf("listeners after stop = %d", n)
	}
}

func TestLayoutGeometry(t *testing.T) {
	entries := []Entry{
		{Index: 1, Rect: dom.Rect{X: 0, Y: 40, Width: 20, Height: 20}},
		{Index: 2, Rect: dom.Rect{X: 30, Y: 80, Width: 20, Height: 20}},
		{Index: 3, Rect: dom.Rect{X: 0, Y: 0, Width: 20, Height: 20}},
	}
	badges, lines := Layout(entries)
	if len(badges) != 3 || len(lines) != 2 {
		t.Fatalf("got %d badges, %d lines", len(badges), len(lines))
	}
	if badges[0].X != 0 || badges[0].Y != 40-BadgeSize {
		t.Errorf("badge 1 = %+v, want above the top-left corner", badges[0])
	}
	if badges[2].Y != 0 {
		t.Errorf("badge at the top edge should clamp to 0, got %v", badges[2].Y)
	}

	l := lines[0]
	if l.X != 10 || l.Y != 50 || l.From != 1 || l.To != 2 {
		t.Errorf("line origin = %+v, want (10,50) from 1 to 2", l)
	}
	if math.Abs(l.Length-50) > 1e-9 {
		t.Errorf("length = %v, want 50", l.Length)
	}
	if want := math.Atan2(40, 30) * 180 / math.Pi; math.Abs(l.Angle-want) > 1e-9 {
		t.Errorf("angle = %v, want %v", l.Angle, want)
	}
	if lines[1].Angle >= 0 {
		t.Errorf("upward line should have a negative angle, got %v", lines[1].Angle)
	}
}

func TestResizeRestartsOnce(t *testing.T) {
	h := newHarness(t, examplePage, Options{IncludeEntries: true})
	if err := h.v.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.doc.DispatchResize(640, 480)
	h.doc.DispatchResize(600, 480)
	h.sched.Frame()

	if got := h.canvas.Mounts(); got != 2 {
		t.Errorf("mounts = %d, want 2 (initial + one restart)", got)
	}
	if len(h.stats) != 2 {
		t.Fatalf("stats published %d times, want 2", len(h.stats))
	}
	if len(h.stats[1].Entries) != 4 {
		t.Errorf("entries in stats = %d, want 4", len(h.stats[1].Entries))
	}
	if !h.v.Active() {
		t.Error("visualizer inactive after restart")
	}
}

func TestAttachCommands(t *testing.T) {
	h := newHarness(t, examplePage, Options{})
	detach := h.v.Attach(h.bus)
	defer detach()
	ctx := context.Background()

	h.bus.Publish(ctx, bus.Event{Data: bus.FocusOrderCommand{Command: bus.FocusOrderToggle}})
	if !h.v.Active() {
		t.Fatal("toggle did not start")
	}
	h.bus.Publish(ctx, bus.Event{Data: bus.FocusOrderCommand{Command: bus.FocusOrderStart}})
	if len(h.stats) != 1 {
		t.Errorf("start while active republished stats")
	}
	h.bus.Publish(ctx, bus.Event{Data: bus.FocusOrderCommand{Command: bus.FocusOrderStop}})
	if h.v.Active() {
		t.Error("stop command ignored")
	}
}

func TestTracker_FocusLayer(t *testing.T) {
	h := newHarness(t, `<html><body>
<button id="one" aria-label="Save">S</button>
<button id="two">Cancel</button>
</body></html>`, Options{})
	h.doc.MustLayout("button", dom.Rect{Width: 40, Height: 20})

	var got []bus.Highlight
	bus.Dispatcher{Highlight: func(_ bus.Event, hl bus.Highlight) { got = append(got, hl) }}.Subscribe(h.bus)

	tr := NewTracker(h.res, h.doc, h.bus)
	tr.Start()
	h.doc.Focus(h.doc.ElementByID("one"))
	h.doc.Focus(h.doc.ElementByID("one"))
	h.doc.Focus(h.doc.ElementByID("two"))

	if len(got) != 3 {
		t.Fatalf("highlights = %d, want 3 (show one, clear one, show two)", len(got))
	}
	if got[0].Layer != overlay.LayerFocus || got[0].Selector != "button#one" || got[0].Message != "button: Save" || !got[0].IsValid {
		t.Errorf("first highlight = %+v", got[0])
	}
	if !got[1].Clear || got[1].Selector != "button#one" {
		t.Errorf("second highlight should clear #one: %+v", got[1])
	}
	if tr.Current() != "button#two" {
		t.Errorf("current = %q", tr.Current())
	}

	tr.Stop()
	tr.Stop()
	if len(got) != 4 || !got[3].Clear {
		t.Errorf("Stop should clear the focus highlight once; got %d events", len(got))
	}
}
