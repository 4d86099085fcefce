package panel

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/inspector"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestModelRendersBusEvents(t *testing.T) {
	m := NewModel(t.Context(), nil)
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	m = update(t, m, busMsg{ev: bus.Event{Data: bus.FocusOrderStats{Total: 4, PositiveTabIndex: 2}}})
	m = update(t, m, busMsg{ev: bus.Event{Data: bus.ElementSelected{Info: resolver.ElementInfo{
		Selector: "button#save", Role: "button", Rect: dom.Rect{Width: 80, Height: 24}, Focusable: true,
	}}}})
	m = update(t, m, stateMsg{state: inspector.State{Inspecting: true, Hovered: "main#main"}})

	view := m.View()
	for _, want := range []string{"Tab stops: 4", "positive tabindex: 2", "button#save", "(no accessible name)", "80x24", "main#main"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModelKeepsRecentChanges(t *testing.T) {
	m := NewModel(t.Context(), nil)
	for i := range maxChanges + 3 {
		m = update(t, m, busMsg{ev: bus.Event{Data: bus.DOMChange{ChangeType: "childList", Elements: []string{string(rune('a' + i))}}}})
	}
	if len(m.changes) != maxChanges {
		t.Fatalf("changes = %d, want %d", len(m.changes), maxChanges)
	}
	if m.changes[0].Elements[0] != "d" {
		t.Errorf("oldest kept = %q, want d", m.changes[0].Elements[0])
	}
}

func TestModelQuitAndDisconnect(t *testing.T) {
	m := NewModel(t.Context(), nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}

	m = update(t, m, disconnectedMsg{})
	if m.connected || !strings.Contains(m.View(), "disconnected") {
		t.Error("disconnect not shown")
	}
	// Keys other than quit are inert without a panel.
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("i")}); cmd != nil {
		t.Error("i produced a command without a panel")
	}
}

func TestFitTruncatesWideRunes(t *testing.T) {
	got := fit("日本語のラベル", 7)
	if w := len([]rune(got)); w > 4 {
		t.Errorf("fit = %q", got)
	}
	if fit("abc", 1) != "" {
		t.Error("width 1 should render nothing")
	}
}
