package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

// bindingName is the page global the agent reports events through.
const bindingName = "__a11ylensEmit"

// Window delivers the tab's input, layout, focus and mutation events. Events
// arrive on a CDP reader goroutine and are posted to the scheduler, so
// handlers always run on the session loop.
type Window struct {
	p      *Page
	sched  scheduler.Scheduler
	cancel context.CancelFunc

	pointer  handlers[func(x, y float64)]
	click    handlers[func(x, y float64)]
	scroll   handlers[func()]
	resize   handlers[func()]
	focus    handlers[func(dom.Element)]
	mutation handlers[func([]dom.Mutation)]
}

var _ dom.Window = (*Window)(nil)

func newWindow(p *Page, sched scheduler.Scheduler) (*Window, error) {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p.page); err != nil {
		return nil, fmt.Errorf("add binding: %w", err)
	}
	ctx, cancel := context.WithCancel(p.ctx)
	w := &Window{p: p, sched: sched, cancel: cancel}
	go p.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		msg, err := parseEmit(e.Payload)
		if err != nil {
			p.logger.Debug("browser.bad_emit", "error", err)
			return
		}
		sched.Post(func() { w.dispatch(msg) })
	})()
	return w, nil
}

// Close stops event delivery. Registered handlers are kept but never called.
func (w *Window) Close() {
	w.cancel()
}

func parseEmit(payload string) (emitMsg, error) {
	var msg emitMsg
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return emitMsg{}, err
	}
	if msg.Type == "" {
		return emitMsg{}, fmt.Errorf("emit without type")
	}
	return msg, nil
}

func (w *Window) dispatch(msg emitMsg) {
	switch msg.Type {
	case "pointermove":
		for _, fn := range w.pointer.list() {
			fn(msg.X, msg.Y)
		}
	case "click":
		for _, fn := range w.click.list() {
			fn(msg.X, msg.Y)
		}
	case "scroll":
		for _, fn := range w.scroll.list() {
			fn()
		}
	case "resize":
		for _, fn := range w.resize.list() {
			fn()
		}
	case "focus":
		el := w.p.element(msg.El)
		for _, fn := range w.focus.list() {
			fn(el)
		}
	case "mutation":
		records := w.mutations(msg.Records)
		if len(records) == 0 {
			return
		}
		for _, fn := range w.mutation.list() {
			fn(records)
		}
	default:
		w.p.logger.Debug("browser.unknown_emit", "type", msg.Type)
	}
}

func (w *Window) mutations(in []mutationMsg) []dom.Mutation {
	out := make([]dom.Mutation, 0, len(in))
	for _, r := range in {
		target := w.p.element(r.Target)
		if target == nil {
			continue
		}
		out = append(out, dom.Mutation{
			Kind:          dom.MutationKind(r.Kind),
			Target:        target,
			AttributeName: r.AttributeName,
		})
	}
	return out
}

func (w *Window) OnPointerMove(fn func(x, y float64)) func() { return w.pointer.add(fn) }
func (w *Window) OnClick(fn func(x, y float64)) func()       { return w.click.add(fn) }
func (w *Window) OnScroll(fn func()) func()                  { return w.scroll.add(fn) }
func (w *Window) OnResize(fn func()) func()                  { return w.resize.add(fn) }
func (w *Window) OnFocus(fn func(el dom.Element)) func()     { return w.focus.add(fn) }
func (w *Window) OnMutation(fn func([]dom.Mutation)) func()  { return w.mutation.add(fn) }

func (w *Window) SetCursor(cursor string) {
	if err := w.p.eval(w.p.ctx, nil, `(c) => window.__a11ylens.cursor(c)`, cursor); err != nil {
		w.p.logger.Debug("browser.set_cursor_failed", "cursor", cursor, "error", err)
	}
}

func (w *Window) SetClickInterception(enabled bool) {
	if err := w.p.eval(w.p.ctx, nil, `(on) => window.__a11ylens.intercept(on)`, enabled); err != nil {
		w.p.logger.Debug("browser.set_intercept_failed", "enabled", enabled, "error", err)
	}
}

// handlers is an ordered listener list. Removal funcs are idempotent.
type handlers[F any] struct {
	mu   sync.Mutex
	next int
	fns  []handler[F]
}

type handler[F any] struct {
	id int
	fn F
}

func (h *handlers[F]) add(fn F) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	h.fns = append(h.fns, handler[F]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, e := range h.fns {
				if e.id == id {
					h.fns = append(h.fns[:i:i], h.fns[i+1:]...)
					return
				}
			}
		})
	}
}

func (h *handlers[F]) list() []F {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]F, len(h.fns))
	for i, e := range h.fns {
		out[i] = e.fn
	}
	return out
}

func (h *handlers[F]) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fns)
}
