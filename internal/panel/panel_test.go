package panel

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/config"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/dom/memdoc"
	"github.com/nextlevelbuilder/a11ylens/internal/focusorder"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway/methods"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/session"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

const page = `<html><body>
<a id="a1" tabindex="1" href="#">first</a>
<button id="b1" tabindex="3">second</button>
<input id="i1">
<div id="d1" tabindex="0">fourth</div>
</body></html>`

type stack struct {
	doc     *memdoc.Document
	surface *overlay.MemorySurface
	sess    *session.Session
	url     string
}

func newStack(t *testing.T, token string) *stack {
	t.Helper()
	doc := memdoc.MustParse(page)
	doc.MustLayout("#a1", dom.Rect{X: 10, Y: 10, Width: 60, Height: 20})

	cfg := config.Default()
	cfg.Gateway.Token = token
	srv := gateway.NewServer(cfg.Gateway)
	surface := overlay.NewMemorySurface()
	sess, err := session.New(cfg, doc, doc, session.Surfaces{Overlay: surface, Canvas: focusorder.NewMemoryCanvas()}, srv)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	methods.NewBusMethods(sess).Register(srv.Router())
	methods.NewPageMethods(sess).Register(srv.Router())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		sess.Close(context.Background())
	})
	return &stack{doc: doc, surface: surface, sess: sess, url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

func connect(t *testing.T, s *stack, token string) *Panel {
	t.Helper()
	p, err := Connect(t.Context(), s.url, DialOptions{Token: token, Name: "test"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectRejectsBadToken(t *testing.T) {
	s := newStack(t, "right-token")
	_, err := Connect(t.Context(), s.url, DialOptions{Token: "wrong"})
	if !errors.Is(err, &protocol.ErrorShape{Code: protocol.ErrUnauthorized}) {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}
	connect(t, s, "right-token")
}

func TestFocusOrderStatsReachPanel(t *testing.T) {
	s := newStack(t, "")
	p := connect(t, s, "")

	var (
		mu    sync.Mutex
		stats []bus.FocusOrderStats
	)
	bus.Dispatcher{FocusOrderStats: func(_ bus.Event, st bus.FocusOrderStats) {
		mu.Lock()
		stats = append(stats, st)
		mu.Unlock()
	}}.Subscribe(p.Bus())

	if _, err := p.FocusOrder(t.Context(), bus.FocusOrderStart); err != nil {
		t.Fatalf("FocusOrder: %v", err)
	}
	eventually(t, "stats", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stats) == 1
	})
	mu.Lock()
	got := stats[0]
	mu.Unlock()
	if got.Total != 4 || got.PositiveTabIndex != 2 {
		t.Errorf("stats = %+v, want {4, 2}", got)
	}

	res, err := p.FocusOrderEntries(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Active || len(res.Entries) != 4 {
		t.Errorf("entries = %+v", res)
	}
}

func TestInspectorAndHighlightCommands(t *testing.T) {
	s := newStack(t, "")
	p := connect(t, s, "")
	ctx := t.Context()

	if _, err := p.Inspector(ctx, bus.InspectorStart); err != nil {
		t.Fatal(err)
	}
	eventually(t, "inspecting", func() bool {
		st, err := p.InspectorState(ctx)
		return err == nil && st.Inspecting
	})

	if _, err := p.Highlight(ctx, bus.Highlight{Selector: "#a1", Message: "link: first", IsValid: true, Layer: overlay.LayerFocus}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "focus layer", func() bool {
		layers, err := p.Layers(ctx)
		if err != nil {
			return false
		}
		for _, l := range layers {
			if l.Name == overlay.LayerFocus && len(l.Selectors) == 1 {
				return true
			}
		}
		return false
	})

	hidden := false
	if _, err := p.ToggleLayer(ctx, "  Focus ", &hidden); err != nil {
		t.Fatal(err)
	}
	eventually(t, "hidden layer", func() bool {
		layers, _ := p.Layers(ctx)
		for _, l := range layers {
			if l.Name == overlay.LayerFocus {
				return !l.Visible
			}
		}
		return false
	})
}

func TestPublishAfterCloseFails(t *testing.T) {
	s := newStack(t, "")
	p := connect(t, s, "")
	p.Close()
	<-p.Done()

	if _, err := p.Inspector(t.Context(), bus.InspectorStart); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if _, err := p.Status(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("Status err = %v", err)
	}
	if p.Client().Err() == nil {
		t.Error("Err is nil after Close")
	}
}
