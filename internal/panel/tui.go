package panel

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/inspector"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
)

// maxChanges is how many DOM_CHANGE batches the UI keeps.
const maxChanges = 6

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7dd3fc"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#a1a1aa"))
	onStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e")).Bold(true)
	offStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#71717a"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f59e0b"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	sectionStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#3f3f46")).Padding(0, 1)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#52525b"))
)

// layerKeys maps number keys to the layers they toggle.
var layerKeys = map[string]string{
	"1": overlay.LayerInspector,
	"2": overlay.LayerInspectorDebug,
	"3": overlay.LayerInspectorSelected,
	"4": overlay.LayerFocus,
}

type busMsg struct{ ev bus.Event }

type stateMsg struct{ state inspector.State }

type resultMsg struct {
	action string
	err    error
}

type disconnectedMsg struct{ err error }

// Model is the bubbletea model of the panel UI.
type Model struct {
	panel *Panel
	ctx   context.Context

	width     int
	connected bool
	state     inspector.State
	stats     *bus.FocusOrderStats
	focusOn   bool
	selected  *resolver.ElementInfo
	changes   []bus.DOMChange
	status    string
	statusErr bool
}

// NewModel builds the UI for a connected panel. p may be nil in tests.
func NewModel(ctx context.Context, p *Panel) Model {
	return Model{panel: p, ctx: ctx, connected: p != nil, width: 80}
}

func (m Model) Init() tea.Cmd {
	if m.panel == nil {
		return nil
	}
	return m.refreshState()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		return m.onKey(msg.String())
	case busMsg:
		m.onBus(msg.ev)
	case stateMsg:
		m.state = msg.state
	case resultMsg:
		if msg.err != nil {
			m.status, m.statusErr = msg.action+": "+msg.err.Error(), true
		} else {
			m.status, m.statusErr = msg.action, false
		}
		if m.panel != nil {
			return m, m.refreshState()
		}
	case disconnectedMsg:
		m.connected = false
		m.status, m.statusErr = "disconnected", true
		if msg.err != nil {
			m.status += ": " + msg.err.Error()
		}
	}
	return m, nil
}

func (m *Model) onBus(ev bus.Event) {
	switch d := ev.Data.(type) {
	case bus.FocusOrderStats:
		m.stats = &d
		m.focusOn = true
	case bus.ElementSelected:
		info := d.Info
		m.selected = &info
	case bus.DOMChange:
		m.changes = append(m.changes, d)
		if len(m.changes) > maxChanges {
			m.changes = m.changes[len(m.changes)-maxChanges:]
		}
	}
}

func (m Model) onKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	if m.panel == nil || !m.connected {
		return m, nil
	}
	switch key {
	case "i":
		cmd := bus.InspectorStart
		if m.state.Inspecting {
			cmd = bus.InspectorStop
		}
		return m, m.inspector(cmd)
	case "d":
		return m, m.inspector(bus.InspectorToggleDeepInspection)
	case "g":
		return m, m.inspector(bus.InspectorToggleDebug)
	case "c":
		return m, m.inspector(bus.InspectorToggleClickThrough)
	case "f":
		m.focusOn = !m.focusOn
		if !m.focusOn {
			m.stats = nil
		}
		return m, m.run("focus order", func(ctx context.Context) error {
			_, err := m.panel.FocusOrder(ctx, bus.FocusOrderToggle)
			return err
		})
	case "r":
		return m, m.refreshState()
	}
	if layer, ok := layerKeys[key]; ok {
		return m, m.run("toggle "+layer, func(ctx context.Context) error {
			_, err := m.panel.ToggleLayer(ctx, layer, nil)
			return err
		})
	}
	return m, nil
}

func (m Model) inspector(cmd bus.InspectorCommandKind) tea.Cmd {
	return m.run("inspector "+string(cmd), func(ctx context.Context) error {
		_, err := m.panel.Inspector(ctx, cmd)
		return err
	})
}

func (m Model) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return resultMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) refreshState() tea.Cmd {
	p, ctx := m.panel, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		st, err := p.InspectorState(ctx)
		if err != nil {
			return resultMsg{action: "refresh", err: err}
		}
		return stateMsg{state: st}
	}
}

func (m Model) View() string {
	w := max(m.width-4, 20)
	var b strings.Builder

	conn := onStyle.Render("connected")
	if !m.connected {
		conn = errStyle.Render("disconnected")
	}
	b.WriteString(titleStyle.Render("a11ylens") + "  " + conn + "\n\n")

	var modes strings.Builder
	modes.WriteString(flag("inspect", m.state.Inspecting) + "  ")
	modes.WriteString(flag("deep", m.state.Deep) + "  ")
	modes.WriteString(flag("debug", m.state.Debug) + "  ")
	modes.WriteString(flag("click-through", m.state.ClickThrough))
	if m.state.Hovered != "" {
		modes.WriteString("\n" + labelStyle.Render("hover ") + fit(m.state.Hovered, w-6))
	}
	b.WriteString(sectionStyle.Render(modes.String()) + "\n")

	var fo strings.Builder
	fo.WriteString(titleStyle.Render("Focus order") + "\n")
	if m.stats == nil {
		fo.WriteString(offStyle.Render("off"))
	} else {
		fmt.Fprintf(&fo, "%s %d", labelStyle.Render("Tab stops:"), m.stats.Total)
		if m.stats.PositiveTabIndex > 0 {
			fo.WriteString("  " + warnStyle.Render(fmt.Sprintf("positive tabindex: %d", m.stats.PositiveTabIndex)))
		}
	}
	b.WriteString(sectionStyle.Render(fo.String()) + "\n")

	if m.selected != nil {
		s := m.selected
		var sel strings.Builder
		sel.WriteString(titleStyle.Render("Selected") + "\n")
		sel.WriteString(labelStyle.Render("selector ") + fit(s.Selector, w-9) + "\n")
		sel.WriteString(labelStyle.Render("role     ") + s.Role + "\n")
		name := s.AccessibleName
		if name == "" {
			name = errStyle.Render("(no accessible name)")
		} else {
			name = fit(name, w-9)
		}
		sel.WriteString(labelStyle.Render("name     ") + name + "\n")
		fmt.Fprintf(&sel, "%s%.0fx%.0f  focusable=%t", labelStyle.Render("size     "), s.Rect.Width, s.Rect.Height, s.Focusable)
		b.WriteString(sectionStyle.Render(sel.String()) + "\n")
	}

	if len(m.changes) > 0 {
		var ch strings.Builder
		ch.WriteString(titleStyle.Render("DOM changes"))
		for _, c := range m.changes {
			line := fmt.Sprintf("%-13s %s", c.ChangeType, strings.Join(c.Elements, ", "))
			ch.WriteString("\n" + fit(line, w))
		}
		b.WriteString(sectionStyle.Render(ch.String()) + "\n")
	}

	if m.status != "" {
		st := labelStyle.Render(fit(m.status, w))
		if m.statusErr {
			st = errStyle.Render(fit(m.status, w))
		}
		b.WriteString(st + "\n")
	}
	b.WriteString(helpStyle.Render("i inspect · d deep · g debug · c click-through · f focus order · 1-4 layers · r refresh · q quit"))
	return b.String()
}

func flag(name string, on bool) string {
	if on {
		return onStyle.Render("● " + name)
	}
	return offStyle.Render("○ " + name)
}

// fit truncates s to w terminal cells.
func fit(s string, w int) string {
	if w <= 1 {
		return ""
	}
	return runewidth.Truncate(s, w, "…")
}

// Run shows the UI until the user quits, ctx ends or the gateway goes away.
func Run(ctx context.Context, p *Panel) error {
	prog := tea.NewProgram(NewModel(ctx, p), tea.WithContext(ctx), tea.WithAltScreen())

	unsubscribe := p.Bus().Subscribe(func(ev bus.Event) { prog.Send(busMsg{ev: ev}) })
	defer unsubscribe()
	go func() {
		select {
		case <-p.Done():
			prog.Send(disconnectedMsg{err: p.Client().Err()})
		case <-ctx.Done():
		}
	}()

	_, err := prog.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
