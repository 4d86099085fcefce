// Package inspector implements the hover, select and debug state machine that
// ties the resolver, the bus and the overlay together.
package inspector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

const (
	CursorInspect = "crosshair"
	CursorDefault = "default"
)

// Options tunes a Controller.
type Options struct {
	// Throttle is the minimum spacing of pointer samples. Defaults to one frame.
	Throttle time.Duration
	Deep     bool
	Debug    bool
	// ClickThrough lets clicks reach the page instead of selecting.
	ClickThrough bool
	Logger       *slog.Logger
}

// State is a snapshot of the controller's mode flags.
type State struct {
	Inspecting   bool   `json:"inspecting"`
	Deep         bool   `json:"deep"`
	Debug        bool   `json:"debug"`
	ClickThrough bool   `json:"clickThrough"`
	Hovered      string `json:"hovered,omitempty"`
	Selected     string `json:"selected,omitempty"`
}

// Controller drives inspection of one window. Methods run on the scheduler's
// loop.
type Controller struct {
	res    *resolver.Resolver
	win    dom.Window
	sched  scheduler.Scheduler
	bus    *bus.Bus
	logger *slog.Logger

	throttle     time.Duration
	inspecting   bool
	deep         bool
	debug        bool
	clickThrough bool

	limiter  *rate.Limiter
	trailing scheduler.Cancel
	lastX    float64
	lastY    float64

	hovered      string
	hoveredLayer string
	selected     string
	removers     []func()
	samples      int
}

func New(res *resolver.Resolver, win dom.Window, sched scheduler.Scheduler, b *bus.Bus, opts Options) *Controller {
	if opts.Throttle <= 0 {
		opts.Throttle = scheduler.FrameInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		res:          res,
		win:          win,
		sched:        sched,
		bus:          b,
		logger:       opts.Logger,
		throttle:     opts.Throttle,
		deep:         opts.Deep,
		debug:        opts.Debug,
		clickThrough: opts.ClickThrough,
	}
}

// State returns the current mode flags.
func (c *Controller) State() State {
	return State{
		Inspecting:   c.inspecting,
		Deep:         c.deep,
		Debug:        c.debug,
		ClickThrough: c.clickThrough,
		Hovered:      c.hovered,
		Selected:     c.selected,
	}
}

// Samples counts pointer samples that reached the resolver.
func (c *Controller) Samples() int { return c.samples }

// SetThrottle changes the pointer sample spacing. An active controller picks
// it up on the next Start.
func (c *Controller) SetThrottle(d time.Duration) {
	if d <= 0 {
		d = scheduler.FrameInterval
	}
	c.throttle = d
}

// Start begins inspecting. Calling it while inspecting is a no-op.
func (c *Controller) Start() {
	if c.inspecting {
		return
	}
	c.inspecting = true
	c.limiter = rate.NewLimiter(rate.Every(c.throttle), 1)
	c.win.SetCursor(CursorInspect)
	c.win.SetClickInterception(!c.clickThrough)
	c.removers = append(c.removers,
		c.win.OnPointerMove(c.onPointerMove),
		c.win.OnClick(c.onClick),
	)
	c.logger.Debug("inspector.started", "deep", c.deep, "debug", c.debug, "click_through", c.clickThrough)
}

// Stop clears every inspector highlight, restores the cursor and releases
// click interception. Idempotent.
func (c *Controller) Stop() {
	if !c.inspecting {
		return
	}
	c.inspecting = false
	if c.trailing != nil {
		c.trailing()
		c.trailing = nil
	}
	for _, rm := range c.removers {
		rm()
	}
	c.removers = nil

	ctx := context.Background()
	for _, l := range []string{overlay.LayerInspector, overlay.LayerInspectorDebug, overlay.LayerInspectorSelected} {
		c.bus.Publish(ctx, bus.Event{Data: bus.Highlight{Layer: l, Clear: true}})
	}
	c.hovered, c.hoveredLayer, c.selected = "", "", ""

	c.win.SetCursor(CursorDefault)
	c.win.SetClickInterception(false)
	c.logger.Debug("inspector.stopped")
}

// restart applies a mode change to an active inspection.
func (c *Controller) restart() {
	if !c.inspecting {
		return
	}
	c.Stop()
	c.Start()
}

func (c *Controller) ToggleDeep() {
	c.deep = !c.deep
	c.restart()
}

func (c *Controller) ToggleDebug() {
	c.debug = !c.debug
	c.restart()
}

func (c *Controller) ToggleClickThrough() {
	c.clickThrough = !c.clickThrough
	if c.inspecting {
		c.win.SetClickInterception(!c.clickThrough)
	}
}

// onPointerMove samples at most once per throttle interval. A move that
// arrives too early is kept as the trailing sample, so the final pointer
// position is always inspected.
func (c *Controller) onPointerMove(x, y float64) {
	c.lastX, c.lastY = x, y
	now := c.sched.Now()
	if c.trailing != nil {
		return
	}
	if c.limiter.AllowN(now, 1) {
		c.inspectAt(x, y)
		return
	}
	r := c.limiter.ReserveN(now, 1)
	c.trailing = c.sched.AfterFunc(r.DelayFrom(now), func() {
		c.trailing = nil
		if c.inspecting {
			c.inspectAt(c.lastX, c.lastY)
		}
	})
}

// target resolves the element to highlight at a point. Shallow inspection
// promotes the innermost hit to its nearest meaningful ancestor.
func (c *Controller) target(x, y float64) dom.Element {
	el := c.res.ResolveAt(context.Background(), x, y)
	if el == nil || c.deep {
		return el
	}
	return promote(el)
}

func promote(el dom.Element) dom.Element {
	for cur := el; cur != nil; cur = cur.Parent() {
		switch cur.TagName() {
		case "html", "body":
			return el
		}
		if resolver.IsFocusable(cur) || meaningful(resolver.Role(cur)) {
			return cur
		}
	}
	return el
}

func meaningful(role string) bool {
	switch role {
	case "", "generic", "none", "presentation":
		return false
	}
	return true
}

func (c *Controller) inspectAt(x, y float64) {
	c.samples++
	el := c.target(x, y)
	sel := ""
	if el != nil {
		sel = c.res.GenerateSelector(el)
	}
	if sel == c.hovered {
		return
	}

	ctx := context.Background()
	if c.hovered != "" {
		c.bus.Publish(ctx, bus.Event{Data: bus.Highlight{Selector: c.hovered, Clear: true, Layer: c.hoveredLayer}})
	}
	c.hovered, c.hoveredLayer = sel, ""
	if sel == "" {
		return
	}

	layer := overlay.LayerInspector
	if c.debug {
		layer = overlay.LayerInspectorDebug
	}
	c.hoveredLayer = layer
	c.bus.Publish(ctx, bus.Event{Data: c.highlight(el, sel, layer)})
}

func (c *Controller) highlight(el dom.Element, sel, layer string) bus.Highlight {
	role := resolver.Role(el)
	name := c.res.AccessibleName(el)
	msg := role
	if name != "" {
		msg += ": " + name
	}
	if c.debug {
		r := el.Rect()
		msg = fmt.Sprintf("%s | %s | %.0fx%.0f | focusable=%t", sel, msg, r.Width, r.Height, resolver.IsFocusable(el))
	}
	return bus.Highlight{
		Selector: sel,
		Message:  msg,
		// Interactive elements without an accessible name fail inspection.
		IsValid: !(resolver.IsInteractive(role) && name == ""),
		Layer:   layer,
	}
}

func (c *Controller) onClick(x, y float64) {
	if !c.inspecting || c.clickThrough {
		return
	}
	if el := c.target(x, y); el != nil {
		c.Select(el)
	}
}

// Select pins a persistent highlight on el that hovering never removes, and
// announces it with ELEMENT_SELECTED.
func (c *Controller) Select(el dom.Element) {
	sel := c.res.GenerateSelector(el)
	if sel == "" {
		return
	}
	ctx := context.Background()
	if c.selected != "" && c.selected != sel {
		c.bus.Publish(ctx, bus.Event{Data: bus.Highlight{Selector: c.selected, Clear: true, Layer: overlay.LayerInspectorSelected}})
	}
	c.selected = sel
	c.bus.Publish(ctx, bus.Event{Data: c.highlight(el, sel, overlay.LayerInspectorSelected)})
	c.bus.Publish(ctx, bus.Event{Data: bus.ElementSelected{Info: c.res.Info(el)}})
	c.logger.Info("inspector.selected", "selector", sel)
}

// Attach consumes INSPECTOR_COMMAND events from b.
func (c *Controller) Attach(b *bus.Bus) func() {
	return bus.Dispatcher{
		InspectorCommand: func(_ bus.Event, cmd bus.InspectorCommand) {
			switch cmd.Command {
			case bus.InspectorStart:
				c.Start()
			case bus.InspectorStop:
				c.Stop()
			case bus.InspectorToggleDebug:
				c.ToggleDebug()
			case bus.InspectorToggleDeepInspection:
				c.ToggleDeep()
			case bus.InspectorToggleClickThrough:
				c.ToggleClickThrough()
			default:
				c.logger.Warn("inspector.unknown_command", "command", cmd.Command)
			}
		},
	}.Subscribe(b)
}
