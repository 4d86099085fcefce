// Package memdoc is an in-memory dom.Document backed by golang.org/x/net/html.
//
// Layout is not computed: callers assign rects (Layout, SetElementRect) and
// the document answers hit-testing and geometry queries from that table.
// Inline style attributes are parsed for display, visibility, opacity and
// z-index so visibility rules can be exercised without a rendering engine.
package memdoc

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// DefaultViewport matches a common laptop viewport.
var DefaultViewport = dom.Rect{Width: 1280, Height: 800}

// Document is a parsed HTML document with an explicit layout table.
type Document struct {
	root *html.Node

	mu       sync.RWMutex
	keys     map[*html.Node]int
	nextKey  int
	layout   map[*html.Node]dom.Rect
	styles   map[*html.Node]dom.Style
	viewport dom.Rect

	pointer   listenerSet[func(x, y float64)]
	click     listenerSet[func(x, y float64)]
	scroll    listenerSet[func()]
	resize    listenerSet[func()]
	focus     listenerSet[func(dom.Element)]
	mutations listenerSet[func([]dom.Mutation)]

	cursor    string
	intercept bool
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("memdoc: parse: %w", err)
	}
	return newDocument(gq.Nodes[0]), nil
}

// ParseString is Parse for inline fixtures.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// MustParse panics on parse errors. Intended for tests.
func MustParse(s string) *Document {
	d, err := ParseString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newDocument(root *html.Node) *Document {
	return &Document{
		root:     root,
		keys:     make(map[*html.Node]int),
		layout:   make(map[*html.Node]dom.Rect),
		styles:   make(map[*html.Node]dom.Style),
		viewport: DefaultViewport,
		cursor:   "default",
	}
}

// Wrap returns the dom.Element for a node of this document.
func (d *Document) Wrap(n *html.Node) dom.Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return &Element{doc: d, n: n}
}

func (d *Document) keyOf(n *html.Node) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.keys[n]; ok {
		return k
	}
	d.nextKey++
	d.keys[n] = d.nextKey
	return d.nextKey
}

// --- dom.Document ---

// ElementsFromPoint returns elements whose rect contains the point, topmost
// first: higher z-index wins, then later in tree order (descendants paint
// over ancestors, later siblings over earlier ones).
func (d *Document) ElementsFromPoint(x, y float64) []dom.Element {
	var hits []*Element
	d.walk(func(n *html.Node) {
		el := &Element{doc: d, n: n}
		if !el.Rect().Contains(x, y) {
			return
		}
		if el.Style().Visibility == "hidden" {
			return
		}
		hits = append(hits, el)
	})

	// Reverse tree order, then a stable sort on z-index keeps that order for ties.
	for i, j := 0, len(hits)-1; i < j; i, j = i+1, j-1 {
		hits[i], hits[j] = hits[j], hits[i]
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Style().ZIndex > hits[j].Style().ZIndex
	})

	out := make([]dom.Element, len(hits))
	for i, h := range hits {
		out[i] = h
	}
	return out
}

// QuerySelectorAll compiles the selector with cascadia.
func (d *Document) QuerySelectorAll(selector string) ([]dom.Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("memdoc: invalid selector %q: %w", selector, err)
	}
	return d.wrapAll(cascadia.QueryAll(d.root, sel)), nil
}

// QueryXPath evaluates an XPath expression with htmlquery.
func (d *Document) QueryXPath(expr string) ([]dom.Element, error) {
	nodes, err := htmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("memdoc: invalid xpath %q: %w", expr, err)
	}
	return d.wrapAll(nodes), nil
}

// ElementByID returns the first element with the given id.
func (d *Document) ElementByID(id string) dom.Element {
	var found *html.Node
	d.walk(func(n *html.Node) {
		if found != nil {
			return
		}
		if v, ok := attr(n, "id"); ok && v == id {
			found = n
		}
	})
	return d.Wrap(found)
}

// DocumentElement returns <html>.
func (d *Document) DocumentElement() dom.Element {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.Wrap(c)
		}
	}
	return nil
}

// Viewport returns the current viewport.
func (d *Document) Viewport() dom.Rect {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.viewport
}

func (d *Document) wrapAll(nodes []*html.Node) []dom.Element {
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		if el := d.Wrap(n); el != nil {
			out = append(out, el)
		}
	}
	return out
}

// walk visits element nodes in document (pre-)order.
func (d *Document) walk(fn func(n *html.Node)) {
	var rec func(n *html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.ElementNode {
			fn(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(d.root)
}

// --- layout table ---

// Layout assigns a rect to every element matching selector.
func (d *Document) Layout(selector string, r dom.Rect) error {
	els, err := d.QuerySelectorAll(selector)
	if err != nil {
		return err
	}
	if len(els) == 0 {
		return fmt.Errorf("memdoc: layout: no element matches %q", selector)
	}
	for _, el := range els {
		d.SetElementRect(el, r)
	}
	return nil
}

// MustLayout is Layout for test fixtures.
func (d *Document) MustLayout(selector string, r dom.Rect) {
	if err := d.Layout(selector, r); err != nil {
		panic(err)
	}
}

// SetElementRect assigns a rect to one element.
func (d *Document) SetElementRect(el dom.Element, r dom.Rect) {
	e, ok := el.(*Element)
	if !ok {
		return
	}
	d.mu.Lock()
	d.layout[e.n] = r
	d.mu.Unlock()
}

// SetStyle overrides the computed style of every element matching selector.
func (d *Document) SetStyle(selector string, s dom.Style) error {
	els, err := d.QuerySelectorAll(selector)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, el := range els {
		d.styles[el.(*Element).n] = s
	}
	return nil
}

// ScrollBy shifts every laid-out element by (-dx, -dy) and dispatches scroll
// listeners, the way a viewport scroll moves client rects.
func (d *Document) ScrollBy(dx, dy float64) {
	d.mu.Lock()
	for n, r := range d.layout {
		r.X -= dx
		r.Y -= dy
		d.layout[n] = r
	}
	d.mu.Unlock()
	d.DispatchScroll()
}

// --- tree mutation ---

// AppendHTML parses fragment and appends it to the first element matching
// parentSelector.
func (d *Document) AppendHTML(parentSelector, fragment string) ([]dom.Element, error) {
	parent := dom.QuerySelector(d, parentSelector)
	if parent == nil {
		return nil, fmt.Errorf("memdoc: append: no element matches %q", parentSelector)
	}
	pn := parent.(*Element).n
	nodes, err := html.ParseFragment(strings.NewReader(fragment), pn)
	if err != nil {
		return nil, fmt.Errorf("memdoc: append: %w", err)
	}
	var added []dom.Element
	var records []dom.Mutation
	for _, n := range nodes {
		pn.AppendChild(n)
		if el := d.Wrap(n); el != nil {
			added = append(added, el)
		}
	}
	records = append(records, dom.Mutation{Kind: dom.MutationChildList, Target: parent})
	d.notify(records)
	return added, nil
}

// Remove detaches el from the tree. The handle stays valid but disconnected.
func (d *Document) Remove(el dom.Element) {
	e, ok := el.(*Element)
	if !ok || e.n.Parent == nil {
		return
	}
	parent := d.Wrap(e.n.Parent)
	e.n.Parent.RemoveChild(e.n)
	d.notify([]dom.Mutation{{Kind: dom.MutationChildList, Target: parent}})
}

// SetText replaces el's children with a single text node.
func (d *Document) SetText(el dom.Element, text string) {
	e, ok := el.(*Element)
	if !ok {
		return
	}
	for c := e.n.FirstChild; c != nil; {
		next := c.NextSibling
		e.n.RemoveChild(c)
		c = next
	}
	e.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	d.notify([]dom.Mutation{{Kind: dom.MutationCharacterData, Target: el}})
}

// HTML renders the current tree.
func (d *Document) HTML() string {
	var b strings.Builder
	_ = html.Render(&b, d.root)
	return b.String()
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// parseInlineStyle reads the handful of properties the engine cares about.
func parseInlineStyle(decl string, s *dom.Style) {
	for _, part := range strings.Split(decl, ";") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "!important")))
		switch k {
		case "display":
			s.Display = v
		case "visibility":
			s.Visibility = v
		case "opacity":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				s.Opacity = f
			}
		case "z-index":
			if i, err := strconv.Atoi(v); err == nil {
				s.ZIndex = i
			}
		case "position":
			s.Position = v
		}
	}
}
