// Package overlay keeps named layers of highlight boxes drawn over the host
// page and aligned with it as the page scrolls and resizes.
//
// Each Renderer mounts one root container with a fixed id. Two renderers on
// the same document share that container and will overwrite each other.
package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

const tracerName = "github.com/nextlevelbuilder/a11ylens/internal/overlay"

// DefaultPulseDuration is how long a pulsing layer animates after a change.
const DefaultPulseDuration = 2 * time.Second

// applyRetryDelay is how long a failed flush waits before resending.
const applyRetryDelay = 250 * time.Millisecond

// Palette holds the default box styles for valid and invalid highlights.
type Palette struct {
	Valid   bus.HighlightStyles
	Invalid bus.HighlightStyles
}

// DefaultPalette is green for passing elements and red for failing ones.
var DefaultPalette = Palette{
	Valid: bus.HighlightStyles{
		Border:            "2px solid rgba(22, 163, 74, 0.9)",
		Background:        "rgba(22, 163, 74, 0.12)",
		MessageBackground: "rgba(21, 128, 61, 0.95)",
	},
	Invalid: bus.HighlightStyles{
		Border:            "2px solid rgba(220, 38, 38, 0.9)",
		Background:        "rgba(220, 38, 38, 0.12)",
		MessageBackground: "rgba(185, 28, 28, 0.95)",
	},
}

// Options tunes a Renderer.
type Options struct {
	PulseDuration time.Duration
	Palette       *Palette
	Logger        *slog.Logger
}

// Renderer owns the layers of one document. All methods must be called on
// the scheduler's loop.
type Renderer struct {
	doc     dom.Document
	win     dom.Window
	sched   scheduler.Scheduler
	surface Surface
	logger  *slog.Logger
	tracer  trace.Tracer

	pulse   time.Duration
	palette Palette

	layers []*layer
	byName map[string]*layer

	// pending holds structural ops (layer opacity, removals) for the next flush.
	pending  []Op
	rendered map[boxKey]Op

	ticking     bool
	cancelFrame scheduler.Cancel
	cancelRetry scheduler.Cancel
	listeners   []func()
	started     bool
	stopped     bool
	flushes     int
}

// New creates a renderer. Start must be called before anything is drawn.
func New(doc dom.Document, win dom.Window, sched scheduler.Scheduler, surface Surface, opts Options) *Renderer {
	if opts.PulseDuration <= 0 {
		opts.PulseDuration = DefaultPulseDuration
	}
	if opts.Palette == nil {
		p := DefaultPalette
		opts.Palette = &p
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Renderer{
		doc:      doc,
		win:      win,
		sched:    sched,
		surface:  surface,
		logger:   opts.Logger,
		tracer:   otel.Tracer(tracerName),
		pulse:    opts.PulseDuration,
		palette:  *opts.Palette,
		byName:   make(map[string]*layer),
		rendered: make(map[boxKey]Op),
	}
}

// Start mounts the root container and begins following scroll and resize.
func (r *Renderer) Start() {
	if r.started || r.stopped {
		return
	}
	r.started = true
	r.pending = append([]Op{{Kind: OpMount}}, r.pending...)
	if r.win != nil {
		r.listeners = append(r.listeners,
			r.win.OnScroll(r.schedule),
			r.win.OnResize(r.schedule),
		)
	}
	r.schedule()
}

// SetPalette replaces the default styles and redraws.
func (r *Renderer) SetPalette(p Palette) {
	r.palette = p
	r.schedule()
}

// SetPulseDuration changes the pulse length for future pulses.
func (r *Renderer) SetPulseDuration(d time.Duration) {
	if d <= 0 {
		d = DefaultPulseDuration
	}
	r.pulse = d
}

// CreateLayer creates a layer with an explicit kind. Creating an existing
// layer is a no-op; its kind is fixed at first creation.
func (r *Renderer) CreateLayer(name string, kind LayerKind) {
	r.layerFor(name, kind)
}

func (r *Renderer) layerFor(name string, kind LayerKind) *layer {
	if l, ok := r.byName[name]; ok {
		return l
	}
	l := newLayer(name, kind)
	r.layers = append(r.layers, l)
	r.byName[name] = l
	r.pending = append(r.pending, Op{Kind: OpLayer, Layer: name, Visible: true})
	return l
}

// Publish inserts or updates the highlight for (layerName, selector).
func (r *Renderer) Publish(layerName, selector string, el dom.Element, message string, isValid bool, styles *bus.HighlightStyles) {
	if r.stopped || selector == "" {
		return
	}
	l := r.layerFor(layerName, defaultKinds[layerName])
	l.put(&HighlightData{
		Element:  el,
		Selector: selector,
		Message:  message,
		IsValid:  isValid,
		Styles:   styles,
	})
	if l.kind == KindPulsing && l.active != selector {
		r.startPulse(l, selector)
	}
	r.schedule()
}

func (r *Renderer) startPulse(l *layer, selector string) {
	l.stopPulse()
	l.active = selector
	l.pulsing = true
	l.cancelPulse = r.sched.AfterFunc(r.pulse, func() {
		l.pulsing = false
		l.cancelPulse = nil
		r.schedule()
	})
}

// Clear removes one record, or every record of the layer when selector is "".
func (r *Renderer) Clear(layerName, selector string) {
	l, ok := r.byName[layerName]
	if !ok {
		return
	}
	var removed []string
	if selector == "" {
		removed = append(removed, l.order...)
		for _, s := range removed {
			l.remove(s)
		}
	} else if l.remove(selector) {
		removed = append(removed, selector)
	}
	if len(removed) == 0 {
		return
	}
	for _, s := range removed {
		if l.active == s {
			l.stopPulse()
			l.active = ""
		}
		r.pending = append(r.pending, Op{Kind: OpRemove, Layer: layerName, Selector: s})
		delete(r.rendered, boxKey{layerName, s})
	}
	r.schedule()
}

// SetLayerVisible shows or hides a layer; nil flips it. Records are kept, so
// showing a layer again needs no republish.
func (r *Renderer) SetLayerVisible(layerName string, visible *bool) {
	l := r.layerFor(layerName, defaultKinds[layerName])
	v := !l.visible
	if visible != nil {
		v = *visible
	}
	if v == l.visible {
		return
	}
	l.visible = v
	r.pending = append(r.pending, Op{Kind: OpLayer, Layer: layerName, Visible: v})
	r.schedule()
}

// Layers summarizes every layer in creation order.
func (r *Renderer) Layers() []LayerState {
	out := make([]LayerState, 0, len(r.layers))
	for _, l := range r.layers {
		out = append(out, LayerState{
			Name:      l.name,
			Kind:      l.kind.String(),
			Visible:   l.visible,
			Selectors: append([]string(nil), l.order...),
		})
	}
	return out
}

// Record returns the record for (layerName, selector).
func (r *Renderer) Record(layerName, selector string) (HighlightData, bool) {
	l, ok := r.byName[layerName]
	if !ok {
		return HighlightData{}, false
	}
	rec, ok := l.records[selector]
	if !ok {
		return HighlightData{}, false
	}
	return *rec, true
}

// Flushes returns how many frame flushes have run.
func (r *Renderer) Flushes() int { return r.flushes }

// schedule requests at most one frame flush, however many times it is called
// before that frame.
func (r *Renderer) schedule() {
	if !r.started || r.stopped || r.ticking {
		return
	}
	r.ticking = true
	r.cancelFrame = r.sched.RequestFrame(r.flush)
}

func (r *Renderer) flush() {
	r.ticking = false
	r.cancelFrame = nil
	if r.stopped {
		return
	}
	r.flushes++

	ctx, span := r.tracer.Start(context.Background(), "overlay.flush")
	defer span.End()

	ops := r.pending
	structural := len(ops)
	r.pending = nil
	for _, l := range r.layers {
		if !l.visible {
			continue
		}
		for _, sel := range l.order {
			op := r.boxOp(l, l.records[sel])
			k := boxKey{l.name, sel}
			if prev, ok := r.rendered[k]; ok && prev == op {
				continue
			}
			r.rendered[k] = op
			ops = append(ops, op)
		}
	}
	span.SetAttributes(attribute.Int("overlay.ops", len(ops)), attribute.Int("overlay.layers", len(r.layers)))
	if len(ops) == 0 {
		return
	}
	if err := r.surface.Apply(ctx, ops); err != nil {
		span.RecordError(err)
		r.logger.Warn("overlay.apply_failed", "ops", len(ops), "error", err)
		// Removals and layer visibility are not recomputed from records, so
		// they go back in front of anything queued since. Forgetting what was
		// drawn makes the retry resend every box.
		r.pending = append(ops[:structural:structural], r.pending...)
		r.rendered = make(map[boxKey]Op)
		r.retryLater()
	}
}

func (r *Renderer) retryLater() {
	if r.cancelRetry != nil {
		return
	}
	r.cancelRetry = r.sched.AfterFunc(applyRetryDelay, func() {
		r.cancelRetry = nil
		r.schedule()
	})
}

// boxOp computes the op for one record. A failure on one element yields a
// hide op for that box only.
func (r *Renderer) boxOp(l *layer, rec *HighlightData) (op Op) {
	op = Op{Kind: OpHide, Layer: l.name, Selector: rec.Selector}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("overlay.box_failed", "layer", l.name, "selector", rec.Selector, "panic", fmt.Sprint(p))
			op = Op{Kind: OpHide, Layer: l.name, Selector: rec.Selector}
		}
	}()

	el := rec.Element
	if el == nil && r.doc != nil {
		// Published before the element existed.
		el = dom.QuerySelector(r.doc, rec.Selector)
		rec.Element = el
	}
	if el == nil || !el.IsConnected() {
		return op
	}
	rect := el.Rect()
	if rect.Width <= 0 || rect.Height <= 0 {
		return op
	}
	return Op{
		Kind:     OpPlace,
		Layer:    l.name,
		Selector: rec.Selector,
		Rect:     rect.Round(),
		Message:  rec.Message,
		IsValid:  rec.IsValid,
		Styles:   r.stylesFor(rec),
		Pulse:    l.kind == KindPulsing && l.pulsing && l.active == rec.Selector,
	}
}

func (r *Renderer) stylesFor(rec *HighlightData) bus.HighlightStyles {
	base := r.palette.Invalid
	if rec.IsValid {
		base = r.palette.Valid
	}
	if rec.Styles == nil {
		return base
	}
	if rec.Styles.Border != "" {
		base.Border = rec.Styles.Border
	}
	if rec.Styles.Background != "" {
		base.Background = rec.Styles.Background
	}
	if rec.Styles.MessageBackground != "" {
		base.MessageBackground = rec.Styles.MessageBackground
	}
	return base
}

// Stop cancels the pending frame and pulse timers, removes listeners and
// destroys the surface. Safe to call more than once.
func (r *Renderer) Stop(ctx context.Context) {
	if r.stopped {
		return
	}
	r.stopped = true
	if r.cancelFrame != nil {
		r.cancelFrame()
		r.cancelFrame = nil
	}
	r.ticking = false
	if r.cancelRetry != nil {
		r.cancelRetry()
		r.cancelRetry = nil
	}
	for _, l := range r.layers {
		l.stopPulse()
	}
	for _, remove := range r.listeners {
		remove()
	}
	r.listeners = nil
	r.layers = nil
	r.byName = make(map[string]*layer)
	r.pending = nil
	r.rendered = make(map[boxKey]Op)
	if r.started {
		if err := r.surface.Destroy(ctx); err != nil {
			r.logger.Debug("overlay.destroy_failed", "error", err)
		}
	}
}
