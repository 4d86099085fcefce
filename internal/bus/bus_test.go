package bus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// pipe connects two buses the way the gateway does: each side's channel hands
// the event to the other side's Receive.
type pipe struct {
	mu   sync.Mutex
	to   *Bus
	sent []Event
	err  error
}

func (p *pipe) Send(_ context.Context, ev Event) error {
	p.mu.Lock()
	p.sent = append(p.sent, ev)
	err, to := p.err, p.to
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if to != nil {
		to.Receive(ev)
	}
	return nil
}

func connected() (page, panel *Bus, toPanel, toPage *pipe) {
	toPanel, toPage = &pipe{}, &pipe{}
	page = New(SidePage, toPanel)
	panel = New(SidePanel, toPage)
	toPanel.to = panel
	toPage.to = page
	return page, panel, toPanel, toPage
}

func TestPublish_StampsTimestamp(t *testing.T) {
	b := New(SidePage, nil)
	var got []Event
	b.Subscribe(func(ev Event) { got = append(got, ev) })

	before := time.Now().UnixMilli()
	b.Publish(context.Background(), Event{Data: Highlight{Selector: "#a"}})
	b.Publish(context.Background(), Event{Data: Highlight{Selector: "#b"}})

	if len(got) != 2 {
		t.Fatalf("delivered %d events, want 2", len(got))
	}
	if got[0].Timestamp < before {
		t.Errorf("timestamp %d is before publish (%d)", got[0].Timestamp, before)
	}
	if got[1].Timestamp < got[0].Timestamp {
		t.Errorf("timestamps decreased: %d then %d", got[0].Timestamp, got[1].Timestamp)
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Errorf("ids not stamped uniquely: %q %q", got[0].ID, got[1].ID)
	}
}

func TestPublish_KeepsExplicitTimestamp(t *testing.T) {
	b := New(SidePanel, nil)
	ev := b.Publish(context.Background(), Event{Timestamp: 42, Data: DOMChange{}})
	if ev.Timestamp != 42 {
		t.Errorf("timestamp = %d, want 42", ev.Timestamp)
	}
}

func TestPublish_TimestampNeverDecreases(t *testing.T) {
	clock := time.UnixMilli(5000)
	b := New(SidePage, nil, WithClock(func() time.Time { return clock }))
	first := b.Publish(context.Background(), Event{Data: DOMChange{}})
	clock = time.UnixMilli(1000) // wall clock stepped back
	second := b.Publish(context.Background(), Event{Data: DOMChange{}})
	if second.Timestamp < first.Timestamp {
		t.Errorf("second timestamp %d < first %d", second.Timestamp, first.Timestamp)
	}
}

func TestPublish_LocalOrderBeforeRelay(t *testing.T) {
	var order []string
	ch := ChannelFunc(func(context.Context, Event) error {
		order = append(order, "relay")
		return nil
	})
	b := New(SidePage, ch)
	b.Subscribe(func(Event) { order = append(order, "first") })
	b.Subscribe(func(Event) { order = append(order, "second") })

	b.Publish(context.Background(), Event{Data: FocusOrderStats{Total: 1}})

	want := "first,second,relay"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestPublish_RelayFailureIsDropped(t *testing.T) {
	ch := ChannelFunc(func(context.Context, Event) error { return errors.New("tab closed") })
	b := New(SidePanel, ch)
	delivered := 0
	b.Subscribe(func(Event) { delivered++ })

	b.Publish(context.Background(), Event{Data: InspectorCommand{Command: InspectorStart}})
	if delivered != 1 {
		t.Errorf("local delivery = %d, want 1", delivered)
	}
	if s := b.Stats(); s.RelayFailed != 1 || s.Relayed != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestCrossContext_NoSelfRelay(t *testing.T) {
	page, panel, toPanel, toPage := connected()

	var pageGot, panelGot int
	page.Subscribe(func(Event) { pageGot++ })
	panel.Subscribe(func(Event) { panelGot++ })

	page.Publish(context.Background(), Event{Data: Highlight{Selector: "#x"}})

	if pageGot != 1 || panelGot != 1 {
		t.Fatalf("page got %d, panel got %d; want 1 and 1", pageGot, panelGot)
	}
	if len(toPanel.sent) != 1 || len(toPage.sent) != 0 {
		t.Errorf("relays: to panel %d, to page %d; want 1 and 0", len(toPanel.sent), len(toPage.sent))
	}

	// A misbehaving transport echoing the event back must not re-deliver it.
	page.Receive(toPanel.sent[0])
	if pageGot != 1 {
		t.Errorf("page handler saw its own event again (%d deliveries)", pageGot)
	}
	if page.Stats().Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", page.Stats().Duplicates)
	}
}

func TestSubscribe_UnsubscribeIdempotent(t *testing.T) {
	b := New(SidePage, nil)
	n := 0
	unsub := b.Subscribe(func(Event) { n++ })
	other := b.Subscribe(func(Event) {})
	unsub()
	unsub()
	b.Publish(context.Background(), Event{Data: DOMChange{}})
	if n != 0 {
		t.Errorf("unsubscribed handler ran %d times", n)
	}
	if b.Stats().Subscribers != 1 {
		t.Errorf("subscribers = %d, want 1", b.Stats().Subscribers)
	}
	other()
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := New(SidePage, nil)
	ran := false
	b.Subscribe(func(Event) { panic("bad handler") })
	b.Subscribe(func(Event) { ran = true })
	b.Publish(context.Background(), Event{Data: DOMChange{}})
	if !ran {
		t.Error("second handler did not run after the first panicked")
	}
}

func TestEventJSON(t *testing.T) {
	visible := false
	in := Event{
		Timestamp: 1700000000000,
		TabID:     "tab-1",
		ID:        "id-1",
		Data:      LayerToggleRequest{Layer: "focus", Visible: &visible},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"type":"LAYER_TOGGLE_REQUEST"`) {
		t.Errorf("wire form missing type: %s", raw)
	}

	var out Event
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, ok := out.Data.(LayerToggleRequest)
	if !ok {
		t.Fatalf("payload type = %T", out.Data)
	}
	if p.Layer != "focus" || p.Visible == nil || *p.Visible {
		t.Errorf("payload = %+v", p)
	}

	err = json.Unmarshal([]byte(`{"type":"VISION_FILTER","timestamp":1,"data":{}}`), &out)
	if !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("unknown type error = %v, want ErrUnknownEventType", err)
	}
}

func TestDispatcherCoversEveryType(t *testing.T) {
	seen := map[EventType]bool{}
	mark := func(ev Event) { seen[ev.Type()] = true }
	d := Dispatcher{
		Highlight:          func(ev Event, _ Highlight) { mark(ev) },
		LayerToggleRequest: func(ev Event, _ LayerToggleRequest) { mark(ev) },
		InspectorCommand:   func(ev Event, _ InspectorCommand) { mark(ev) },
		FocusOrderCommand:  func(ev Event, _ FocusOrderCommand) { mark(ev) },
		FocusOrderStats:    func(ev Event, _ FocusOrderStats) { mark(ev) },
		DOMChange:          func(ev Event, _ DOMChange) { mark(ev) },
		ElementSelected:    func(ev Event, _ ElementSelected) { mark(ev) },
	}
	for _, typ := range EventTypes {
		p, err := newPayload(typ)
		if err != nil {
			t.Fatalf("newPayload(%s): %v", typ, err)
		}
		d.Handle(Event{Data: deref(p)})
	}
	for _, typ := range EventTypes {
		if !seen[typ] {
			t.Errorf("dispatcher has no case for %s", typ)
		}
	}
}

func TestDedupeCache_EvictsOldest(t *testing.T) {
	c := NewDedupeCache(time.Minute, 2)
	now := time.UnixMilli(0)
	c.now = func() time.Time { return now }

	c.Mark("a")
	now = now.Add(time.Millisecond)
	c.Mark("b")
	now = now.Add(time.Millisecond)
	c.Mark("c")

	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if c.IsDuplicate("a") {
		t.Error("oldest id should have been evicted")
	}

	now = now.Add(3 * time.Minute)
	if c.IsDuplicate("c") {
		t.Error("expired id still reported as duplicate")
	}
}
