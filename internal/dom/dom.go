// Package dom defines the narrow view of a host document that the inspection
// engine works against. The browser-backed implementation lives in
// pkg/browser; internal/dom/memdoc provides a parsed, in-memory document with
// an explicit layout table for tests and offline audits.
package dom

import (
	"math"
	"strings"
)

// ReservedTagPrefix marks the tool's own injected elements. Hit-testing and
// mutation watching ignore anything carrying this prefix or ReservedAttr.
const (
	ReservedTagPrefix = "a11ylens-"
	ReservedAttr      = "data-a11ylens"
)

// Rect is a viewport-relative bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns width*height, or 0 for negative extents.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Contains reports whether the point lies inside r (right/bottom edges exclusive).
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Center returns the midpoint of r.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Round snaps r to whole pixels so repeated flushes compare equal.
func (r Rect) Round() Rect {
	return Rect{X: math.Round(r.X), Y: math.Round(r.Y), Width: math.Round(r.Width), Height: math.Round(r.Height)}
}

// Style is the subset of computed style the engine reads.
type Style struct {
	Display    string  `json:"display"`
	Visibility string  `json:"visibility"`
	Opacity    float64 `json:"opacity"`
	ZIndex     int     `json:"zIndex,omitempty"`
	Position   string  `json:"position,omitempty"`
}

// DefaultStyle is what an element computes to with no author styles.
func DefaultStyle() Style {
	return Style{Display: "block", Visibility: "visible", Opacity: 1, Position: "static"}
}

// Element is a live handle to a host element. Handles are non-owning: a
// detached element keeps answering but reports IsConnected() == false.
type Element interface {
	// Key identifies the element within its document for as long as it is attached.
	Key() string
	TagName() string
	Attr(name string) (string, bool)
	SetAttr(name, value string) error
	RemoveAttr(name string) error
	Attributes() map[string]string
	Parent() Element
	Children() []Element
	TextContent() string
	Rect() Rect
	Style() Style
	IsConnected() bool
}

// Document is the query surface of one host document.
type Document interface {
	// ElementsFromPoint returns every element stacked at the viewport point,
	// topmost first.
	ElementsFromPoint(x, y float64) []Element
	// QuerySelectorAll returns matches in document order.
	QuerySelectorAll(selector string) ([]Element, error)
	QueryXPath(expr string) ([]Element, error)
	ElementByID(id string) Element
	DocumentElement() Element
	Viewport() Rect
}

// MutationKind mirrors MutationRecord.type.
type MutationKind string

const (
	MutationChildList     MutationKind = "childList"
	MutationAttributes    MutationKind = "attributes"
	MutationCharacterData MutationKind = "characterData"
)

// Mutation is a single observed DOM change.
type Mutation struct {
	Kind          MutationKind
	Target        Element
	AttributeName string
}

// Window is the event surface of the page hosting a Document. Every On*
// registration returns a func that removes the listener; calling it twice is
// a no-op.
type Window interface {
	OnPointerMove(fn func(x, y float64)) func()
	OnClick(fn func(x, y float64)) func()
	OnScroll(fn func()) func()
	OnResize(fn func()) func()
	OnFocus(fn func(el Element)) func()
	OnMutation(fn func(records []Mutation)) func()
	SetCursor(cursor string)
	// SetClickInterception makes page clicks reach OnClick handlers only,
	// without triggering the page's own behavior.
	SetClickInterception(enabled bool)
}

// SameElement compares two handles by identity.
func SameElement(a, b Element) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

// IsReserved reports whether el belongs to the tool's own UI namespace.
func IsReserved(el Element) bool {
	if el == nil {
		return false
	}
	if strings.HasPrefix(el.TagName(), ReservedTagPrefix) {
		return true
	}
	_, ok := el.Attr(ReservedAttr)
	return ok
}

// InReservedTree reports whether el or any ancestor is reserved.
func InReservedTree(el Element) bool {
	for cur := el; cur != nil; cur = cur.Parent() {
		if IsReserved(cur) {
			return true
		}
	}
	return false
}

// ClassList splits the class attribute on whitespace.
func ClassList(el Element) []string {
	v, _ := el.Attr("class")
	return strings.Fields(v)
}

// QuerySelector returns the first match or nil.
func QuerySelector(doc Document, selector string) Element {
	els, err := doc.QuerySelectorAll(selector)
	if err != nil || len(els) == 0 {
		return nil
	}
	return els[0]
}
