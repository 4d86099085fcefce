package memdoc

import (
	"sync"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// listenerSet keeps listeners in registration order.
type listenerSet[F any] struct {
	mu      sync.Mutex
	nextID  int
	entries []listenerEntry[F]
}

type listenerEntry[F any] struct {
	id int
	fn F
}

func (s *listenerSet[F]) add(fn F) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, listenerEntry[F]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.entries {
				if e.id == id {
					s.entries = append(s.entries[:i], s.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *listenerSet[F]) snapshot() []F {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]F, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.fn
	}
	return out
}

func (s *listenerSet[F]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// --- dom.Window ---

func (d *Document) OnPointerMove(fn func(x, y float64)) func() { return d.pointer.add(fn) }
func (d *Document) OnClick(fn func(x, y float64)) func()       { return d.click.add(fn) }
func (d *Document) OnScroll(fn func()) func()                  { return d.scroll.add(fn) }
func (d *Document) OnResize(fn func()) func()                  { return d.resize.add(fn) }
func (d *Document) OnFocus(fn func(dom.Element)) func()        { return d.focus.add(fn) }

func (d *Document) OnMutation(fn func([]dom.Mutation)) func() { return d.mutations.add(fn) }

func (d *Document) SetCursor(cursor string) {
	d.mu.Lock()
	d.cursor = cursor
	d.mu.Unlock()
}

func (d *Document) SetClickInterception(enabled bool) {
	d.mu.Lock()
	d.intercept = enabled
	d.mu.Unlock()
}

// Cursor returns the last cursor set through the Window interface.
func (d *Document) Cursor() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cursor
}

// ClickInterception reports whether clicks are currently intercepted.
func (d *Document) ClickInterception() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.intercept
}

// ListenerCount reports the number of live listeners across every event kind.
func (d *Document) ListenerCount() int {
	return d.pointer.len() + d.click.len() + d.scroll.len() + d.resize.len() + d.focus.len() + d.mutations.len()
}

// --- synthetic dispatch ---

func (d *Document) DispatchPointerMove(x, y float64) {
	for _, fn := range d.pointer.snapshot() {
		fn(x, y)
	}
}

// DispatchClick delivers a click and reports whether the page's default
// action was suppressed.
func (d *Document) DispatchClick(x, y float64) bool {
	for _, fn := range d.click.snapshot() {
		fn(x, y)
	}
	return d.ClickInterception()
}

func (d *Document) DispatchScroll() {
	for _, fn := range d.scroll.snapshot() {
		fn()
	}
}

// DispatchResize changes the viewport and dispatches resize listeners.
func (d *Document) DispatchResize(width, height float64) {
	d.mu.Lock()
	d.viewport = dom.Rect{Width: width, Height: height}
	d.mu.Unlock()
	for _, fn := range d.resize.snapshot() {
		fn()
	}
}

// Focus moves focus to el and dispatches focus listeners.
func (d *Document) Focus(el dom.Element) {
	for _, fn := range d.focus.snapshot() {
		fn(el)
	}
}

func (d *Document) notify(records []dom.Mutation) {
	if len(records) == 0 {
		return
	}
	for _, fn := range d.mutations.snapshot() {
		fn(records)
	}
}
