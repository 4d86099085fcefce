package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// GenerateSelector returns a CSS selector whose first document match is el at
// the moment of generation. Preference order: unique tag#id, the shortest
// ancestor path of tag.class segments that matches exactly once, then an
// :nth-child path from <html>.
func (r *Resolver) GenerateSelector(el dom.Element) string {
	if el == nil {
		return ""
	}
	key := el.Key()
	if s, ok := r.memo.Get(key); ok {
		if r.firstMatchIs(s, el) {
			return s
		}
		r.memo.Remove(key)
	}

	s := r.buildSelector(el)
	if s != "" && el.IsConnected() {
		r.memo.Add(key, s)
	}
	return s
}

func (r *Resolver) buildSelector(el dom.Element) string {
	tag := el.TagName()
	if id, ok := el.Attr("id"); ok && id != "" {
		s := tag + "#" + cssEscape(id)
		if r.uniqueMatch(s, el) {
			return s
		}
	}

	path := segment(el)
	if r.uniqueMatch(path, el) {
		return path
	}
	for cur := el.Parent(); cur != nil; cur = cur.Parent() {
		anchor := segment(cur)
		if id, ok := cur.Attr("id"); ok && id != "" {
			anchor = cur.TagName() + "#" + cssEscape(id)
		}
		path = anchor + " > " + path
		if r.uniqueMatch(path, el) {
			return path
		}
	}

	return r.positionalSelector(el)
}

func (r *Resolver) positionalSelector(el dom.Element) string {
	var parts []string
	for cur := el; cur != nil; cur = cur.Parent() {
		parent := cur.Parent()
		if parent == nil {
			parts = append(parts, cur.TagName())
			break
		}
		parts = append(parts, fmt.Sprintf("%s:nth-child(%d)", cur.TagName(), childIndex(parent, cur)))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// segment renders tag.class1.class2 for one element.
func segment(el dom.Element) string {
	var b strings.Builder
	b.WriteString(el.TagName())
	for _, c := range dom.ClassList(el) {
		b.WriteByte('.')
		b.WriteString(cssEscape(c))
	}
	return b.String()
}

func childIndex(parent, child dom.Element) int {
	for i, c := range parent.Children() {
		if dom.SameElement(c, child) {
			return i + 1
		}
	}
	return 0
}

func (r *Resolver) uniqueMatch(selector string, el dom.Element) bool {
	els, err := r.doc.QuerySelectorAll(selector)
	if err != nil || len(els) != 1 {
		return false
	}
	return dom.SameElement(els[0], el)
}

func (r *Resolver) firstMatchIs(selector string, el dom.Element) bool {
	return dom.SameElement(dom.QuerySelector(r.doc, selector), el)
}

// cssEscape escapes an identifier for use after # or . in a selector.
func cssEscape(ident string) string {
	var b strings.Builder
	for i, ch := range ident {
		switch {
		case ch == 0:
			b.WriteString(`\FFFD `)
		case ch >= '0' && ch <= '9' && i == 0:
			b.WriteString(`\3` + strconv.Itoa(int(ch-'0')) + " ")
		case ch == '-' && i == 0 && len(ident) == 1:
			b.WriteString(`\-`)
		case ch >= 0x80, ch == '-', ch == '_',
			ch >= '0' && ch <= '9', ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
			b.WriteRune(ch)
		case ch < 0x20 || ch == 0x7f:
			b.WriteString(`\` + strconv.FormatInt(int64(ch), 16) + " ")
		default:
			b.WriteByte('\\')
			b.WriteRune(ch)
		}
	}
	return b.String()
}
