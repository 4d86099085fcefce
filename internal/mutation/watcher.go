// Package mutation turns raw DOM mutation records into debounced DOM_CHANGE
// events.
//
// Records are buffered per change type. A buffer is flushed once the page has
// been quiet for Window, or immediately when it reaches MaxElements distinct
// elements. Each flush publishes one DOM_CHANGE carrying the selectors of the
// changed elements.
package mutation

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

const (
	DefaultWindow      = 250 * time.Millisecond
	DefaultMaxElements = 200
)

// Options tunes a Watcher.
type Options struct {
	Window      time.Duration
	MaxElements int
	// IgnoreAttributes lists attribute names whose changes are dropped, for
	// markers the tool writes onto page elements itself.
	IgnoreAttributes []string
	Logger           *slog.Logger
}

// Watcher observes one window. Methods run on the scheduler's loop.
type Watcher struct {
	res    *resolver.Resolver
	win    dom.Window
	sched  scheduler.Scheduler
	bus    *bus.Bus
	opts   Options
	ignore map[string]bool
	logger *slog.Logger

	buffers map[dom.MutationKind]*buffer
	remove  func()
	flushed int
}

type buffer struct {
	seen     map[string]bool
	elements []string
	cancel   scheduler.Cancel
}

func New(res *resolver.Resolver, win dom.Window, sched scheduler.Scheduler, b *bus.Bus, opts Options) *Watcher {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxElements <= 0 {
		opts.MaxElements = DefaultMaxElements
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ignore := map[string]bool{dom.ReservedAttr: true}
	for _, a := range opts.IgnoreAttributes {
		ignore[a] = true
	}
	return &Watcher{
		res:     res,
		win:     win,
		sched:   sched,
		bus:     b,
		opts:    opts,
		ignore:  ignore,
		logger:  opts.Logger,
		buffers: make(map[dom.MutationKind]*buffer),
	}
}

// Start subscribes to mutations. Calling it twice is a no-op.
func (w *Watcher) Start() {
	if w.remove != nil {
		return
	}
	w.remove = w.win.OnMutation(w.push)
}

// Stop unsubscribes and flushes whatever is buffered. Idempotent.
func (w *Watcher) Stop() {
	if w.remove == nil {
		return
	}
	w.remove()
	w.remove = nil
	for _, kind := range []dom.MutationKind{dom.MutationChildList, dom.MutationAttributes, dom.MutationCharacterData} {
		w.flush(kind)
	}
}

// Flushes counts published DOM_CHANGE events.
func (w *Watcher) Flushes() int { return w.flushed }

func (w *Watcher) push(records []dom.Mutation) {
	invalidated := false
	for _, rec := range records {
		if rec.Target == nil || dom.InReservedTree(rec.Target) {
			continue
		}
		if rec.Kind == dom.MutationAttributes && w.ignore[rec.AttributeName] {
			continue
		}
		if !invalidated {
			// Structure or attributes changed; memoized selectors may be stale.
			w.res.Invalidate()
			invalidated = true
		}
		sel := w.res.GenerateSelector(rec.Target)
		if sel == "" {
			continue
		}
		w.add(rec.Kind, sel)
	}
}

func (w *Watcher) add(kind dom.MutationKind, sel string) {
	buf, ok := w.buffers[kind]
	if !ok {
		buf = &buffer{seen: make(map[string]bool)}
		w.buffers[kind] = buf
	}
	if !buf.seen[sel] {
		buf.seen[sel] = true
		buf.elements = append(buf.elements, sel)
	}
	if len(buf.elements) >= w.opts.MaxElements {
		w.flush(kind)
		return
	}

	// Quiet-period debounce: every record pushes the deadline back.
	if buf.cancel != nil {
		buf.cancel()
	}
	buf.cancel = w.sched.AfterFunc(w.opts.Window, func() {
		w.flush(kind)
	})
	if len(buf.elements) == 1 {
		w.logger.Debug("mutation.buffering", "change_type", kind, "window_ms", w.opts.Window.Milliseconds())
	}
}

func (w *Watcher) flush(kind dom.MutationKind) {
	buf, ok := w.buffers[kind]
	if !ok || len(buf.elements) == 0 {
		return
	}
	if buf.cancel != nil {
		buf.cancel()
	}
	delete(w.buffers, kind)
	w.flushed++

	w.logger.Debug("mutation.flush", "change_type", kind, "elements", len(buf.elements))
	w.bus.Publish(context.Background(), bus.Event{Data: bus.DOMChange{
		Elements:   buf.elements,
		ChangeType: string(kind),
		Timestamp:  w.sched.Now().UnixMilli(),
	}})
}
