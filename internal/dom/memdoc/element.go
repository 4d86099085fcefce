package memdoc

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// Element wraps an html.Node of a Document.
type Element struct {
	doc *Document
	n   *html.Node
}

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.n }

func (e *Element) Key() string { return "m" + strconv.Itoa(e.doc.keyOf(e.n)) }

func (e *Element) TagName() string { return strings.ToLower(e.n.Data) }

func (e *Element) Attr(name string) (string, bool) { return attr(e.n, name) }

func (e *Element) SetAttr(name, value string) error {
	for i, a := range e.n.Attr {
		if a.Key == name {
			e.n.Attr[i].Val = value
			e.doc.notify([]dom.Mutation{{Kind: dom.MutationAttributes, Target: e, AttributeName: name}})
			return nil
		}
	}
	e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
	e.doc.notify([]dom.Mutation{{Kind: dom.MutationAttributes, Target: e, AttributeName: name}})
	return nil
}

func (e *Element) RemoveAttr(name string) error {
	for i, a := range e.n.Attr {
		if a.Key == name {
			e.n.Attr = append(e.n.Attr[:i], e.n.Attr[i+1:]...)
			e.doc.notify([]dom.Mutation{{Kind: dom.MutationAttributes, Target: e, AttributeName: name}})
			return nil
		}
	}
	return nil
}

func (e *Element) Attributes() map[string]string {
	out := make(map[string]string, len(e.n.Attr))
	for _, a := range e.n.Attr {
		out[a.Key] = a.Val
	}
	return out
}

func (e *Element) Parent() dom.Element {
	if e.n.Parent == nil || e.n.Parent.Type != html.ElementNode {
		return nil
	}
	return &Element{doc: e.doc, n: e.n.Parent}
}

func (e *Element) Children() []dom.Element {
	var out []dom.Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, &Element{doc: e.doc, n: c})
		}
	}
	return out
}

func (e *Element) TextContent() string {
	return goquery.NewDocumentFromNode(e.n).Text()
}

// Rect returns the assigned rect, or a zero rect when the element or an
// ancestor is display:none or the element is detached.
func (e *Element) Rect() dom.Rect {
	if !e.IsConnected() {
		return dom.Rect{}
	}
	for cur := e.n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if e.doc.ownStyle(cur).Display == "none" {
			return dom.Rect{}
		}
	}
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.doc.layout[e.n]
}

// Style returns the element's computed style. Visibility inherits from the
// nearest ancestor that sets it.
func (e *Element) Style() dom.Style {
	s := e.doc.ownStyle(e.n)
	if _, explicit := e.doc.explicitVisibility(e.n); !explicit {
		for p := e.n.Parent; p != nil && p.Type == html.ElementNode; p = p.Parent {
			if v, ok := e.doc.explicitVisibility(p); ok {
				s.Visibility = v
				break
			}
		}
	}
	return s
}

func (e *Element) IsConnected() bool {
	for cur := e.n; cur != nil; cur = cur.Parent {
		if cur == e.doc.root {
			return true
		}
	}
	return false
}

func (d *Document) ownStyle(n *html.Node) dom.Style {
	d.mu.RLock()
	s, ok := d.styles[n]
	d.mu.RUnlock()
	if ok {
		return s
	}
	s = dom.DefaultStyle()
	switch strings.ToLower(n.Data) {
	case "head", "script", "style", "template", "title", "meta", "link":
		s.Display = "none"
	}
	if _, hidden := attr(n, "hidden"); hidden {
		s.Display = "none"
	}
	if decl, ok := attr(n, "style"); ok {
		parseInlineStyle(decl, &s)
	}
	return s
}

func (d *Document) explicitVisibility(n *html.Node) (string, bool) {
	d.mu.RLock()
	s, ok := d.styles[n]
	d.mu.RUnlock()
	if ok && s.Visibility != "" {
		return s.Visibility, true
	}
	decl, ok := attr(n, "style")
	if !ok || !strings.Contains(strings.ToLower(decl), "visibility") {
		return "", false
	}
	parsed := dom.Style{}
	parseInlineStyle(decl, &parsed)
	return parsed.Visibility, parsed.Visibility != ""
}
