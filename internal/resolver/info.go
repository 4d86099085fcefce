package resolver

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// MaxTextContent caps ElementInfo.TextContent, in runes.
const MaxTextContent = 200

// ElementInfo is a point-in-time description of an element. It is stale after
// the next DOM mutation or paint.
type ElementInfo struct {
	Element        dom.Element       `json:"-"`
	TagName        string            `json:"tagName"`
	TextContent    string            `json:"textContent"`
	Attributes     map[string]string `json:"attributes"`
	Rect           dom.Rect          `json:"rect"`
	ComputedStyles dom.Style         `json:"computedStyles"`
	Selector       string            `json:"selector"`
	XPath          string            `json:"xpath"`
	Role           string            `json:"role"`
	AccessibleName string            `json:"accessibleName"`
	Visible        bool              `json:"visible"`
	Focusable      bool              `json:"focusable"`
}

// Info describes el.
func (r *Resolver) Info(el dom.Element) ElementInfo {
	return ElementInfo{
		Element:        el,
		TagName:        el.TagName(),
		TextContent:    capRunes(collapse(el.TextContent()), MaxTextContent),
		Attributes:     el.Attributes(),
		Rect:           el.Rect(),
		ComputedStyles: el.Style(),
		Selector:       r.GenerateSelector(el),
		XPath:          r.GenerateXPath(el),
		Role:           Role(el),
		AccessibleName: r.AccessibleName(el),
		Visible:        IsVisible(el),
		Focusable:      IsFocusable(el),
	}
}

// capRunes keeps at most n runes of s, cutting only at normalization
// boundaries so a base rune never loses its combining marks.
func capRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	end, count := 0, 0
	for end < len(s) {
		next := end + norm.NFC.NextBoundaryInString(s[end:], true)
		count += utf8.RuneCountInString(s[end:next])
		if count > n {
			break
		}
		end = next
	}
	return s[:end]
}
