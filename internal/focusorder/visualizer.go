package focusorder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

// Options tunes a Visualizer.
type Options struct {
	// IncludeEntries adds the full entry list to FOCUS_ORDER_STATS.
	IncludeEntries bool
	Logger         *slog.Logger
}

// Visualizer draws the tab order of one document. Methods run on the
// scheduler's loop.
type Visualizer struct {
	res    *resolver.Resolver
	win    dom.Window
	sched  scheduler.Scheduler
	canvas Canvas
	bus    *bus.Bus
	opts   Options
	logger *slog.Logger

	active         bool
	entries        []Entry
	removeResize   func()
	restartPending bool
	cancelRestart  scheduler.Cancel
}

// New creates a stopped visualizer. b may be nil, in which case stats are not
// published.
func New(res *resolver.Resolver, win dom.Window, sched scheduler.Scheduler, canvas Canvas, b *bus.Bus, opts Options) *Visualizer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Visualizer{
		res:    res,
		win:    win,
		sched:  sched,
		canvas: canvas,
		bus:    b,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Active reports whether the order is currently drawn.
func (v *Visualizer) Active() bool { return v.active }

// Entries returns the current tab order, or nil when stopped.
func (v *Visualizer) Entries() []Entry {
	return append([]Entry(nil), v.entries...)
}

// Start computes the order, marks elements, draws and publishes stats once.
// Starting an active visualizer is a no-op.
func (v *Visualizer) Start(ctx context.Context) error {
	if v.active {
		return nil
	}
	entries, err := Order(v.res)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := e.Element.SetAttr(MarkerAttr, strconv.Itoa(e.Index)); err != nil {
			v.logger.Debug("focusorder.mark_failed", "selector", e.Selector, "error", err)
		}
	}
	if err := v.canvas.Mount(ctx); err != nil {
		v.unmark(entries)
		return fmt.Errorf("focusorder: mount canvas: %w", err)
	}
	badges, lines := Layout(entries)
	if err := v.canvas.Draw(ctx, badges, lines); err != nil {
		v.logger.Warn("focusorder.draw_failed", "entries", len(entries), "error", err)
	}

	v.active = true
	v.entries = entries
	if v.win != nil {
		v.removeResize = v.win.OnResize(v.onResize)
	}

	stats := Stats(entries, v.opts.IncludeEntries)
	v.logger.Debug("focusorder.started", "total", stats.Total, "positive_tabindex", stats.PositiveTabIndex)
	if v.bus != nil {
		v.bus.Publish(ctx, bus.Event{Data: stats})
	}
	return nil
}

// Stop removes the canvas and every marker attribute. Calling it while
// stopped is a no-op.
func (v *Visualizer) Stop(ctx context.Context) {
	if v.cancelRestart != nil {
		v.cancelRestart()
		v.cancelRestart = nil
	}
	v.restartPending = false
	if !v.active {
		return
	}
	v.active = false
	if v.removeResize != nil {
		v.removeResize()
		v.removeResize = nil
	}
	if err := v.canvas.Unmount(ctx); err != nil {
		v.logger.Warn("focusorder.unmount_failed", "error", err)
	}
	v.unmark(v.entries)
	v.entries = nil
}

// unmark removes MarkerAttr from the given entries and from any stray element
// still carrying it.
func (v *Visualizer) unmark(entries []Entry) {
	for _, e := range entries {
		_ = e.Element.RemoveAttr(MarkerAttr)
	}
	stray, err := v.res.Document().QuerySelectorAll("[" + MarkerAttr + "]")
	if err != nil {
		return
	}
	for _, el := range stray {
		_ = el.RemoveAttr(MarkerAttr)
	}
}

// Toggle starts a stopped visualizer or stops an active one.
func (v *Visualizer) Toggle(ctx context.Context) error {
	if v.active {
		v.Stop(ctx)
		return nil
	}
	return v.Start(ctx)
}

// onResize restarts from scratch on the next frame; a burst of resize events
// restarts once.
func (v *Visualizer) onResize() {
	if v.restartPending {
		return
	}
	v.restartPending = true
	v.cancelRestart = v.sched.RequestFrame(func() {
		v.restartPending = false
		v.cancelRestart = nil
		ctx := context.Background()
		v.Stop(ctx)
		if err := v.Start(ctx); err != nil {
			v.logger.Warn("focusorder.restart_failed", "error", err)
		}
	})
}

// Attach consumes FOCUS_ORDER_COMMAND events from b.
func (v *Visualizer) Attach(b *bus.Bus) func() {
	return bus.Dispatcher{
		FocusOrderCommand: func(_ bus.Event, cmd bus.FocusOrderCommand) {
			ctx := context.Background()
			var err error
			switch cmd.Command {
			case bus.FocusOrderStart:
				err = v.Start(ctx)
			case bus.FocusOrderStop:
				v.Stop(ctx)
			case bus.FocusOrderToggle:
				err = v.Toggle(ctx)
			default:
				v.logger.Warn("focusorder.unknown_command", "command", cmd.Command)
			}
			if err != nil {
				v.logger.Warn("focusorder.command_failed", "command", cmd.Command, "error", err)
			}
		},
	}.Subscribe(b)
}
