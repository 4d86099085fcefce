// Package session wires one page's inspection components together and owns
// their lifecycle. A Session replaces process-wide singletons: every
// component is constructed with its collaborators and torn down in reverse.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/config"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/focusorder"
	"github.com/nextlevelbuilder/a11ylens/internal/inspector"
	"github.com/nextlevelbuilder/a11ylens/internal/mutation"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/internal/scheduler"
)

// Surfaces are the drawing targets inside the page.
type Surfaces struct {
	Overlay overlay.Surface
	Canvas  focusorder.Canvas
}

type Option func(*Session)

// WithScheduler runs the session on sched instead of a dedicated Loop.
// Callers that pass their own scheduler drive and stop it themselves. A
// *scheduler.Loop is still used by Do so calls from other goroutines stay
// serialized.
func WithScheduler(sched scheduler.Scheduler) Option {
	return func(s *Session) { s.sched = sched }
}

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// WithTabID stamps events published by this session.
func WithTabID(id string) Option { return func(s *Session) { s.tabID = id } }

// Session is the page-side context object for one tab.
type Session struct {
	cfg    *config.Config
	doc    dom.Document
	win    dom.Window
	sched  scheduler.Scheduler
	loop   *scheduler.Loop
	owned  bool
	logger *slog.Logger
	tabID  string

	bus        *bus.Bus
	resolver   *resolver.Resolver
	renderer   *overlay.Renderer
	visualizer *focusorder.Visualizer
	tracker    *focusorder.Tracker
	controller *inspector.Controller
	watcher    *mutation.Watcher

	mu      sync.Mutex
	started bool
	closed  bool
	detach  []func()
}

// New builds every component but starts none of them.
func New(cfg *config.Config, doc dom.Document, win dom.Window, surfaces Surfaces, channel bus.Channel, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Session{cfg: cfg, doc: doc, win: win, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	switch sched := s.sched.(type) {
	case nil:
		s.loop = scheduler.NewLoop("session")
		s.sched = s.loop
		s.owned = true
	case *scheduler.Loop:
		s.loop = sched
	}

	res, err := resolver.New(doc, resolver.Options{
		MinArea:     cfg.Inspector.MinArea,
		ExcludeExpr: cfg.Inspector.ExcludeExpr,
		MemoSize:    cfg.Inspector.MemoSize,
		Logger:      s.logger,
	})
	if err != nil {
		s.stopLoop()
		return nil, fmt.Errorf("session: resolver: %w", err)
	}
	s.resolver = res

	s.bus = bus.New(bus.SidePage, channel, bus.WithLogger(s.logger), bus.WithTabID(s.tabID))
	palette := Palette(cfg.Overlay)
	s.renderer = overlay.New(doc, win, s.sched, surfaces.Overlay, overlay.Options{
		PulseDuration: time.Duration(cfg.Overlay.PulseMs) * time.Millisecond,
		Palette:       &palette,
		Logger:        s.logger,
	})
	s.visualizer = focusorder.New(res, win, s.sched, surfaces.Canvas, s.bus, focusorder.Options{
		IncludeEntries: cfg.FocusOrder.IncludeEntries,
		Logger:         s.logger,
	})
	s.tracker = focusorder.NewTracker(res, win, s.bus)
	s.controller = inspector.New(res, win, s.sched, s.bus, inspector.Options{
		Throttle:     time.Duration(cfg.Inspector.ThrottleMs) * time.Millisecond,
		Deep:         cfg.Inspector.Deep,
		Debug:        cfg.Inspector.Debug,
		ClickThrough: cfg.Inspector.ClickThrough,
		Logger:       s.logger,
	})
	s.watcher = mutation.New(res, win, s.sched, s.bus, mutation.Options{
		Window:           time.Duration(cfg.Mutations.WindowMs) * time.Millisecond,
		MaxElements:      cfg.Mutations.MaxElements,
		IgnoreAttributes: []string{focusorder.MarkerAttr},
		Logger:           s.logger,
	})
	return s, nil
}

// Palette merges configured box styles over overlay.DefaultPalette.
func Palette(oc config.OverlayConfig) overlay.Palette {
	p := overlay.DefaultPalette
	merge := func(dst *bus.HighlightStyles, src config.BoxStyle) {
		if src.Border != "" {
			dst.Border = src.Border
		}
		if src.Background != "" {
			dst.Background = src.Background
		}
		if src.MessageBackground != "" {
			dst.MessageBackground = src.MessageBackground
		}
	}
	merge(&p.Valid, oc.Valid)
	merge(&p.Invalid, oc.Invalid)
	return p
}

func (s *Session) Bus() *bus.Bus { return s.bus }
func (s *Session) Resolver() *resolver.Resolver { return s.resolver }
func (s *Session) Renderer() *overlay.Renderer { return s.renderer }
func (s *Session) Visualizer() *focusorder.Visualizer { return s.visualizer }
func (s *Session) Controller() *inspector.Controller { return s.controller }
func (s *Session) Scheduler() scheduler.Scheduler { return s.sched }
func (s *Session) Document() dom.Document { return s.doc }

// Do runs fn on the session loop and waits for it. With an external
// scheduler that is not a Loop fn runs inline.
func (s *Session) Do(ctx context.Context, fn func()) error {
	if s.loop == nil {
		fn()
		return nil
	}
	return s.loop.Do(ctx, fn)
}

// Start attaches every component to the bus and starts the page listeners.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	return s.Do(ctx, func() {
		s.renderer.Start()
		s.detach = append(s.detach,
			s.renderer.Attach(s.bus),
			s.visualizer.Attach(s.bus),
			s.controller.Attach(s.bus),
		)
		if s.cfg.FocusOrder.TrackFocus {
			s.tracker.Start()
		}
		if s.cfg.Mutations.Enabled {
			s.watcher.Start()
		}
		s.logger.Info("session.started", "tab_id", s.tabID)
	})
}

// Receive delivers an event from the panel side. It may be called from any
// goroutine; delivery happens on the session loop.
func (s *Session) Receive(ev bus.Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.sched.Post(func() {
		if !s.bus.Receive(ev) {
			s.logger.Debug("session.duplicate_dropped", "id", ev.ID, "type", ev.Type())
		}
	})
}

// Publish publishes ev on the page bus from any goroutine.
func (s *Session) Publish(ctx context.Context, ev bus.Event) (bus.Event, error) {
	var out bus.Event
	err := s.Do(ctx, func() { out = s.bus.Publish(ctx, ev) })
	return out, err
}

// ApplyConfig re-applies the reloadable settings.
func (s *Session) ApplyConfig(cfg *config.Config) {
	s.sched.Post(func() {
		s.cfg = cfg
		s.resolver.SetMinArea(cfg.Inspector.MinArea)
		if err := s.resolver.SetExcludeExpr(cfg.Inspector.ExcludeExpr); err != nil {
			s.logger.Warn("session.exclude_expr_invalid", "error", err)
		}
		s.controller.SetThrottle(time.Duration(cfg.Inspector.ThrottleMs) * time.Millisecond)
		s.renderer.SetPulseDuration(time.Duration(cfg.Overlay.PulseMs) * time.Millisecond)
		s.renderer.SetPalette(Palette(cfg.Overlay))
		s.logger.Info("session.config_applied", "hash", cfg.Hash())
	})
}

// Close tears components down in reverse construction order and stops the
// loop. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Do(ctx, func() {
		s.watcher.Stop()
		s.tracker.Stop()
		s.controller.Stop()
		s.visualizer.Stop(ctx)
		for i := len(s.detach) - 1; i >= 0; i-- {
			s.detach[i]()
		}
		s.detach = nil
		s.renderer.Stop(ctx)
		s.logger.Info("session.closed", "tab_id", s.tabID)
	})
	s.stopLoop()
	return err
}

func (s *Session) stopLoop() {
	if s.owned {
		s.loop.Stop()
	}
}
