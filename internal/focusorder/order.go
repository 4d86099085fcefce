// Package focusorder computes the keyboard tab sequence of a document and
// draws it as numbered badges joined by lines.
package focusorder

import (
	"fmt"
	"sort"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
)

// MarkerAttr is written onto every element while the visualizer is active.
const MarkerAttr = "data-focus-order"

// Entry is one tab stop.
type Entry struct {
	Index    int
	Element  dom.Element
	Selector string
	// TabIndex is nil when the attribute is absent or not an integer.
	TabIndex *int
	Rect     dom.Rect
}

// Wire converts the entry to its event form.
func (e Entry) Wire() bus.FocusOrderEntry {
	return bus.FocusOrderEntry{Index: e.Index, Selector: e.Selector, TabIndex: e.TabIndex, Rect: e.Rect}
}

// Order collects allowlisted elements and sorts them into tab order:
// positive tabindex first, ascending, ties in document order; then every other
// element (0, absent, negative, unparsable) in document order. Disabled
// elements never take focus and are skipped whatever their tabindex.
func Order(res *resolver.Resolver) ([]Entry, error) {
	els, err := res.Document().QuerySelectorAll(resolver.FocusableSelector)
	if err != nil {
		return nil, fmt.Errorf("focusorder: collect: %w", err)
	}

	entries := make([]Entry, 0, len(els))
	for _, el := range els {
		if dom.InReservedTree(el) {
			continue
		}
		if _, disabled := el.Attr("disabled"); disabled {
			continue
		}
		e := Entry{Element: el}
		if ti, ok := resolver.TabIndex(el); ok {
			ti := ti
			e.TabIndex = &ti
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := positive(entries[i]), positive(entries[j])
		switch {
		case pi && pj:
			return *entries[i].TabIndex < *entries[j].TabIndex
		case pi != pj:
			return pi
		default:
			return false
		}
	})

	for i := range entries {
		entries[i].Index = i + 1
		entries[i].Selector = res.GenerateSelector(entries[i].Element)
		entries[i].Rect = entries[i].Element.Rect()
	}
	return entries, nil
}

func positive(e Entry) bool { return e.TabIndex != nil && *e.TabIndex > 0 }

// Stats summarizes an ordering.
func Stats(entries []Entry, withEntries bool) bus.FocusOrderStats {
	s := bus.FocusOrderStats{Total: len(entries)}
	for _, e := range entries {
		if positive(e) {
			s.PositiveTabIndex++
		}
	}
	if withEntries {
		s.Entries = make([]bus.FocusOrderEntry, len(entries))
		for i, e := range entries {
			s.Entries[i] = e.Wire()
		}
	}
	return s
}
