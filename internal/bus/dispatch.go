package bus

// Dispatcher routes events to one typed handler per payload kind. Nil fields
// ignore that kind.
type Dispatcher struct {
	Highlight          func(Event, Highlight)
	LayerToggleRequest func(Event, LayerToggleRequest)
	InspectorCommand   func(Event, InspectorCommand)
	FocusOrderCommand  func(Event, FocusOrderCommand)
	FocusOrderStats    func(Event, FocusOrderStats)
	DOMChange          func(Event, DOMChange)
	ElementSelected    func(Event, ElementSelected)
}

// Handle is a Handler. A payload kind added to the package must get a case
// here; TestDispatcherCoversEveryType fails otherwise.
func (d Dispatcher) Handle(ev Event) {
	switch p := ev.Data.(type) {
	case Highlight:
		if d.Highlight != nil {
			d.Highlight(ev, p)
		}
	case LayerToggleRequest:
		if d.LayerToggleRequest != nil {
			d.LayerToggleRequest(ev, p)
		}
	case InspectorCommand:
		if d.InspectorCommand != nil {
			d.InspectorCommand(ev, p)
		}
	case FocusOrderCommand:
		if d.FocusOrderCommand != nil {
			d.FocusOrderCommand(ev, p)
		}
	case FocusOrderStats:
		if d.FocusOrderStats != nil {
			d.FocusOrderStats(ev, p)
		}
	case DOMChange:
		if d.DOMChange != nil {
			d.DOMChange(ev, p)
		}
	case ElementSelected:
		if d.ElementSelected != nil {
			d.ElementSelected(ev, p)
		}
	}
}

// Subscribe attaches the dispatcher to b.
func (d Dispatcher) Subscribe(b *Bus) func() {
	return b.Subscribe(d.Handle)
}
