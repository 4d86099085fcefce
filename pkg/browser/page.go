package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

//go:embed agent.js
var agentJS string

// Page is one inspected tab. It implements dom.Document by evaluating calls
// against the agent installed in every document the tab loads.
type Page struct {
	page     *rod.Page
	targetID string
	timeout  time.Duration
	logger   *slog.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	removeScript func() error

	mu  sync.Mutex
	win *Window
}

var _ dom.Document = (*Page)(nil)

func newPage(ctx context.Context, rp *rod.Page, targetID string, timeout time.Duration, logger *slog.Logger) (*Page, error) {
	remove, err := rp.EvalOnNewDocument(agentJS)
	if err != nil {
		return nil, fmt.Errorf("install agent: %w", err)
	}
	if _, err := (proto.RuntimeEvaluate{Expression: agentJS}).Call(rp.Context(ctx)); err != nil {
		_ = remove()
		return nil, fmt.Errorf("run agent: %w", err)
	}
	pctx, cancel := context.WithCancel(context.Background())
	return &Page{
		page:         rp,
		targetID:     targetID,
		timeout:      timeout,
		logger:       logger.With("tab", targetID),
		ctx:          pctx,
		cancel:       cancel,
		removeScript: remove,
	}, nil
}

// TargetID returns the DevTools target id of the tab.
func (p *Page) TargetID() string { return p.targetID }

// URL returns the tab's current URL.
func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}

// Window returns the tab's event surface, delivering events on sched. The
// first call installs the binding; later calls return the same Window.
func (p *Page) Window(sched scheduler.Scheduler) (*Window, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.win != nil {
		return p.win, nil
	}
	w, err := newWindow(p, sched)
	if err != nil {
		return nil, err
	}
	p.win = w
	return w, nil
}

// Overlay returns the highlight surface of the tab.
func (p *Page) Overlay() *OverlaySurface { return &OverlaySurface{p: p} }

// FocusCanvas returns the focus-order drawing surface of the tab.
func (p *Page) FocusCanvas() *FocusCanvas { return &FocusCanvas{p: p} }

// Close stops event delivery and closes the tab.
func (p *Page) Close() error {
	p.detach()
	return p.page.Close()
}

func (p *Page) detach() {
	p.cancel()
	if p.removeScript != nil {
		_ = p.removeScript()
		p.removeScript = nil
	}
}

// eval calls js (a function expression) with args and decodes the result
// into out when out is non-nil.
func (p *Page) eval(ctx context.Context, out any, js string, args ...any) error {
	pg := p.page.Context(ctx).Timeout(p.timeout)
	defer pg.CancelTimeout()

	res, err := pg.Evaluate(rod.Eval(js, args...))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) element(r *ref) dom.Element {
	if r == nil || r.ID == "" {
		return nil
	}
	return &Element{p: p, id: r.ID, tag: r.Tag}
}

func (p *Page) elements(refs []ref) []dom.Element {
	out := make([]dom.Element, 0, len(refs))
	for i := range refs {
		if el := p.element(&refs[i]); el != nil {
			out = append(out, el)
		}
	}
	return out
}

func (p *Page) ElementsFromPoint(x, y float64) []dom.Element {
	var refs []ref
	if err := p.eval(p.ctx, &refs, `(x, y) => window.__a11ylens.fromPoint(x, y)`, x, y); err != nil {
		p.logger.Debug("browser.from_point_failed", "error", err)
		return nil
	}
	return p.elements(refs)
}

func (p *Page) QuerySelectorAll(selector string) ([]dom.Element, error) {
	return p.query(`(s) => window.__a11ylens.query(s)`, selector, "selector")
}

func (p *Page) QueryXPath(expr string) ([]dom.Element, error) {
	return p.query(`(s) => window.__a11ylens.xpath(s)`, expr, "xpath")
}

func (p *Page) query(js, arg, kind string) ([]dom.Element, error) {
	var res queryResult
	if err := p.eval(p.ctx, &res, js, arg); err != nil {
		return nil, fmt.Errorf("browser: %s %q: %w", kind, arg, err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("browser: invalid %s %q: %s", kind, arg, res.Error)
	}
	return p.elements(res.Els), nil
}

func (p *Page) ElementByID(id string) dom.Element {
	var r *ref
	if err := p.eval(p.ctx, &r, `(v) => window.__a11ylens.byId(v)`, id); err != nil {
		p.logger.Debug("browser.by_id_failed", "id", id, "error", err)
		return nil
	}
	return p.element(r)
}

func (p *Page) DocumentElement() dom.Element {
	var r *ref
	if err := p.eval(p.ctx, &r, `() => window.__a11ylens.root()`); err != nil {
		p.logger.Debug("browser.root_failed", "error", err)
		return nil
	}
	return p.element(r)
}

func (p *Page) Viewport() dom.Rect {
	var r dom.Rect
	if err := p.eval(p.ctx, &r, `() => window.__a11ylens.viewport()`); err != nil {
		p.logger.Debug("browser.viewport_failed", "error", err)
	}
	return r
}

// Element is a handle to an element in the tab. Calls on a handle from a
// previous document, or on a collected element, return zero values.
type Element struct {
	p   *Page
	id  string
	tag string
}

var _ dom.Element = (*Element)(nil)

func (e *Element) Key() string     { return e.id }
func (e *Element) TagName() string { return e.tag }

func (e *Element) call(out any, fn string, args ...any) error {
	js := fmt.Sprintf(`(id, ...rest) => window.__a11ylens.%s(id, ...rest)`, fn)
	err := e.p.eval(e.p.ctx, out, js, append([]any{e.id}, args...)...)
	if err != nil {
		e.p.logger.Debug("browser.element_call_failed", "call", fn, "element", e.id, "error", err)
	}
	return err
}

func (e *Element) Attr(name string) (string, bool) {
	var res struct {
		OK    bool   `json:"ok"`
		Value string `json:"value"`
	}
	if e.call(&res, "attr", name) != nil {
		return "", false
	}
	return res.Value, res.OK
}

func (e *Element) SetAttr(name, value string) error {
	return e.call(nil, "setAttr", name, value)
}

func (e *Element) RemoveAttr(name string) error {
	return e.call(nil, "removeAttr", name)
}

func (e *Element) Attributes() map[string]string {
	attrs := map[string]string{}
	_ = e.call(&attrs, "attrs")
	return attrs
}

func (e *Element) Parent() dom.Element {
	var r *ref
	if e.call(&r, "parent") != nil {
		return nil
	}
	return e.p.element(r)
}

func (e *Element) Children() []dom.Element {
	var refs []ref
	if e.call(&refs, "children") != nil {
		return nil
	}
	return e.p.elements(refs)
}

func (e *Element) TextContent() string {
	var s string
	_ = e.call(&s, "text")
	return s
}

func (e *Element) Rect() dom.Rect {
	var r dom.Rect
	_ = e.call(&r, "rect")
	return r
}

func (e *Element) Style() dom.Style {
	s := dom.DefaultStyle()
	_ = e.call(&s, "style")
	return s
}

func (e *Element) IsConnected() bool {
	var ok bool
	_ = e.call(&ok, "connected")
	return ok
}
