package methods

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/config"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/dom/memdoc"
	"github.com/nextlevelbuilder/a11ylens/internal/focusorder"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/internal/session"
	"github.com/nextlevelbuilder/a11ylens/pkg/browser"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

const page = `<html><body>
<a id="a1" tabindex="1" href="#">first</a>
<button id="b1" aria-label="Save">S</button>
<div id="d1" tabindex="0">fourth</div>
<span id="empty"></span>
</body></html>`

type fakeCapturer struct {
	mu    sync.Mutex
	rects []dom.Rect
}

func (f *fakeCapturer) Capture(_ context.Context, rect dom.Rect) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rects = append(f.rects, rect)
	return []byte("\x89PNG"), nil
}

func (f *fakeCapturer) Rects() []dom.Rect {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dom.Rect(nil), f.rects...)
}

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) Receive(ev bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Event(nil), r.events...)
}

type fakeAX struct {
	mu   sync.Mutex
	opts []browser.AXOptions
}

func (f *fakeAX) AXTree(_ context.Context, opts browser.AXOptions) (*browser.AXSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = append(f.opts, opts)
	return &browser.AXSnapshot{Outline: "- button [no name]", Lines: 1, Interactive: 1, Unnamed: []browser.AXIssue{{Role: "button"}}}, nil
}

func (f *fakeAX) Calls() []browser.AXOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]browser.AXOptions(nil), f.opts...)
}

type env struct {
	sess    *session.Session
	ax      *fakeAX
	capture *fakeCapturer
	cfgM    *ConfigMethods
	recv    *recorder
	conn    *websocket.Conn
	next    int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	doc := memdoc.MustParse(page)
	doc.MustLayout("#a1", dom.Rect{X: 10, Y: 10, Width: 40, Height: 20})
	doc.MustLayout("#b1", dom.Rect{X: 100, Y: 100, Width: 80, Height: 30})
	doc.MustLayout("#d1", dom.Rect{X: 10, Y: 200, Width: 300, Height: 40})

	cfg := config.Default()
	cfg.Gateway.Token = "tok-123456789"
	srv := gateway.NewServer(cfg.Gateway)
	sess, err := session.New(cfg, doc, doc, session.Surfaces{Overlay: overlay.NewMemorySurface(), Canvas: focusorder.NewMemoryCanvas()}, srv)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Close(context.Background()) })

	e := &env{sess: sess, ax: &fakeAX{}, capture: &fakeCapturer{}, recv: &recorder{}, cfgM: NewConfigMethods(cfg, "/tmp/a11ylens.json5")}
	NewBusMethods(e.recv).Register(srv.Router())
	NewElementMethods(sess, e.capture).Register(srv.Router())
	NewPageMethods(sess).Register(srv.Router())
	NewAXMethods(e.ax).Register(srv.Router())
	e.cfgM.Register(srv.Router())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	e.conn = conn
	if resp := e.call(t, protocol.MethodConnect, protocol.ConnectParams{Token: cfg.Gateway.Token}); !resp.OK {
		t.Fatalf("connect: %+v", resp.Error)
	}
	return e
}

func (e *env) call(t *testing.T, method string, params any) protocol.InboundResponse {
	t.Helper()
	e.next++
	id := method + "-" + string(rune('0'+e.next%10))
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}
	for {
		var resp protocol.InboundResponse
		e.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := e.conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read %s: %v", method, err)
		}
		if resp.Type == protocol.FrameTypeResponse && resp.ID == id {
			return resp
		}
	}
}

func decode[T any](t *testing.T, resp protocol.InboundResponse) T {
	t.Helper()
	if !resp.OK {
		t.Fatalf("response error: %+v", resp.Error)
	}
	var v T
	if err := json.Unmarshal(resp.Payload, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestBusPublish(t *testing.T) {
	e := newEnv(t)

	ev := bus.Event{ID: "panel-1", Timestamp: 1, Data: bus.InspectorCommand{Command: bus.InspectorStart}}
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	got := decode[map[string]string](t, e.call(t, protocol.MethodBusPublish, json.RawMessage(raw)))
	if got["id"] != "panel-1" || got["type"] != string(bus.TypeInspectorCommand) {
		t.Errorf("ack = %v", got)
	}
	if evs := e.recv.Events(); len(evs) != 1 || evs[0].ID != "panel-1" {
		t.Errorf("received = %+v", evs)
	}

	bad := e.call(t, protocol.MethodBusPublish, map[string]any{"type": "NOPE", "id": "x", "data": map[string]any{}})
	if bad.OK || bad.Error.Code != protocol.ErrInvalidRequest {
		t.Errorf("unknown event type = %+v", bad)
	}
	noID := e.call(t, protocol.MethodBusPublish, map[string]any{"type": "FOCUS_ORDER_COMMAND", "data": map[string]any{"command": "start"}})
	if noID.OK {
		t.Error("event without id accepted")
	}
}

func TestElementAtAndInfo(t *testing.T) {
	e := newEnv(t)

	info := decode[resolver.ElementInfo](t, e.call(t, protocol.MethodElementAt, protocol.ElementAtParams{X: 120, Y: 110}))
	if info.Selector != "button#b1" || info.AccessibleName != "Save" || info.Role != "button" {
		t.Errorf("element.at = %+v", info)
	}

	miss := e.call(t, protocol.MethodElementAt, protocol.ElementAtParams{X: 5000, Y: 5000})
	if miss.OK || miss.Error.Code != protocol.ErrNotFound {
		t.Errorf("empty point = %+v", miss)
	}

	info = decode[resolver.ElementInfo](t, e.call(t, protocol.MethodElementInfo, protocol.SelectorParams{Selector: "#d1"}))
	if info.TagName != "div" || !info.Focusable {
		t.Errorf("element.info = %+v", info)
	}

	tests := []struct {
		name   string
		params any
		code   string
	}{
		{"no params", nil, protocol.ErrInvalidRequest},
		{"empty selector", protocol.SelectorParams{}, protocol.ErrInvalidRequest},
		{"no match", protocol.SelectorParams{Selector: "#missing"}, protocol.ErrNotFound},
		{"bad selector", protocol.SelectorParams{Selector: "[["}, protocol.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.call(t, protocol.MethodElementInfo, tt.params)
			if resp.OK || resp.Error.Code != tt.code {
				t.Errorf("got %+v, want %s", resp, tt.code)
			}
		})
	}
}

func TestElementCapture(t *testing.T) {
	e := newEnv(t)

	res := decode[protocol.CaptureResult](t, e.call(t, protocol.MethodElementCapture, protocol.SelectorParams{Selector: "#b1"}))
	png, err := base64.StdEncoding.DecodeString(res.PNG)
	if err != nil || string(png) != "\x89PNG" {
		t.Errorf("png = %q, %v", png, err)
	}
	if rects := e.capture.Rects(); len(rects) != 1 || rects[0].Width != 80 {
		t.Errorf("captured rects = %+v", rects)
	}

	noBox := e.call(t, protocol.MethodElementCapture, protocol.SelectorParams{Selector: "#empty"})
	if noBox.OK || noBox.Error.Code != protocol.ErrFailedPrecondition {
		t.Errorf("capture of boxless element = %+v", noBox)
	}
}

func TestFocusOrderEntries(t *testing.T) {
	e := newEnv(t)

	res := decode[FocusOrderResult](t, e.call(t, protocol.MethodFocusOrderEntries, nil))
	if res.Active || res.Total != 3 || res.PositiveTabIndex != 1 || len(res.Entries) != 3 {
		t.Fatalf("entries = %+v", res)
	}
	if res.Entries[0].Selector != "a#a1" {
		t.Errorf("first stop = %q", res.Entries[0].Selector)
	}

	if _, err := e.sess.Publish(t.Context(), bus.Event{Data: bus.FocusOrderCommand{Command: bus.FocusOrderStart}}); err != nil {
		t.Fatal(err)
	}
	res = decode[FocusOrderResult](t, e.call(t, protocol.MethodFocusOrderEntries, nil))
	if !res.Active || res.Total != 3 {
		t.Errorf("entries while active = %+v", res)
	}
}

func TestInspectorStateAndLayers(t *testing.T) {
	e := newEnv(t)
	if _, err := e.sess.Publish(t.Context(), bus.Event{Data: bus.InspectorCommand{Command: bus.InspectorStart}}); err != nil {
		t.Fatal(err)
	}

	got := decode[struct {
		State struct {
			Inspecting bool `json:"inspecting"`
		} `json:"state"`
	}](t, e.call(t, protocol.MethodInspectorState, nil))
	if !got.State.Inspecting {
		t.Error("inspector.state does not report inspecting")
	}

	hl := bus.Highlight{Selector: "#b1", Message: "button: Save", IsValid: true, Layer: overlay.LayerInspector}
	if _, err := e.sess.Publish(t.Context(), bus.Event{Data: hl}); err != nil {
		t.Fatal(err)
	}
	layers := decode[struct {
		Layers []overlay.LayerState `json:"layers"`
	}](t, e.call(t, protocol.MethodOverlayLayers, nil))
	var found bool
	for _, l := range layers.Layers {
		if l.Name == overlay.LayerInspector && len(l.Selectors) == 1 && l.Selectors[0] == "#b1" {
			found = true
		}
	}
	if !found {
		t.Errorf("layers = %+v, want inspector holding #b1", layers.Layers)
	}
}

func TestConfigGetMasksToken(t *testing.T) {
	e := newEnv(t)

	got := decode[struct {
		Config config.Config `json:"config"`
		Hash   string        `json:"hash"`
		Path   string        `json:"path"`
	}](t, e.call(t, protocol.MethodConfigGet, nil))
	if got.Config.Gateway.Token == "tok-123456789" || got.Config.Gateway.Token == "" {
		t.Errorf("token not masked: %q", got.Config.Gateway.Token)
	}
	if got.Hash == "" || got.Path != "/tmp/a11ylens.json5" {
		t.Errorf("hash %q path %q", got.Hash, got.Path)
	}

	next := config.Default()
	next.Inspector.MinArea = 99
	e.cfgM.Set(next)
	got2 := decode[struct {
		Hash string `json:"hash"`
	}](t, e.call(t, protocol.MethodConfigGet, nil))
	if got2.Hash == got.Hash {
		t.Error("Set did not change the reported config")
	}
}

func TestPageAXTree(t *testing.T) {
	e := newEnv(t)

	resp := e.call(t, protocol.MethodPageAXTree, browser.AXOptions{Interactive: true, MaxDepth: 3})
	if !resp.OK {
		t.Fatalf("page.axtree: %+v", resp.Error)
	}
	snap := decode[browser.AXSnapshot](t, resp)
	if snap.Interactive != 1 || len(snap.Unnamed) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	calls := e.ax.Calls()
	if len(calls) != 1 || !calls[0].Interactive || calls[0].MaxDepth != 3 {
		t.Errorf("options passed = %+v", calls)
	}

	if resp := e.call(t, protocol.MethodPageAXTree, nil); !resp.OK {
		t.Errorf("page.axtree without params: %+v", resp.Error)
	}
}
