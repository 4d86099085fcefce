package resolver

import (
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// focusRule is one entry of the natively focusable allowlist.
type focusRule struct {
	tag  string
	attr string // required attribute, "" for none
	sel  string
}

var focusRules = []focusRule{
	{tag: "a", attr: "href", sel: "a[href]"},
	{tag: "area", attr: "href", sel: "area[href]"},
	{tag: "button", sel: "button:not([disabled])"},
	{tag: "input", sel: `input:not([disabled]):not([type="hidden"])`},
	{tag: "select", sel: "select:not([disabled])"},
	{tag: "textarea", sel: "textarea:not([disabled])"},
	{tag: "iframe", sel: "iframe"},
	{tag: "summary", sel: "details > summary"},
	{tag: "audio", attr: "controls", sel: "audio[controls]"},
	{tag: "video", attr: "controls", sel: "video[controls]"},
	{attr: "contenteditable", sel: `[contenteditable]:not([contenteditable="false"])`},
	{attr: "tabindex", sel: `[tabindex]:not([tabindex="-1"])`},
}

// FocusableSelector is the allowlist as a single selector group, for
// collecting candidates in document order.
var FocusableSelector = func() string {
	sels := make([]string, len(focusRules))
	for i, r := range focusRules {
		sels[i] = r.sel
	}
	return strings.Join(sels, ", ")
}()

// TabIndex parses the tabindex attribute. ok is false when it is absent or
// not an integer.
func TabIndex(el dom.Element) (int, bool) {
	v, present := el.Attr("tabindex")
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsVisible is false for display:none, visibility:hidden, opacity:0 or a
// zero-area box.
func IsVisible(el dom.Element) bool {
	if el == nil || !el.IsConnected() {
		return false
	}
	s := el.Style()
	if s.Display == "none" || s.Visibility == "hidden" || s.Visibility == "collapse" || s.Opacity == 0 {
		return false
	}
	return el.Rect().Area() > 0
}

// IsFocusable reports whether keyboard focus can reach el.
func IsFocusable(el dom.Element) bool {
	if el == nil {
		return false
	}
	if _, disabled := el.Attr("disabled"); disabled {
		return false
	}
	ti, hasTI := TabIndex(el)
	if hasTI && ti < 0 {
		return false
	}
	if !IsVisible(el) {
		return false
	}
	return nativelyFocusable(el) || (hasTI && ti >= 0)
}

func nativelyFocusable(el dom.Element) bool {
	tag := el.TagName()
	for _, r := range focusRules {
		if r.tag != "" && r.tag != tag {
			continue
		}
		if r.tag == "" && r.attr == "tabindex" {
			continue
		}
		if r.attr != "" {
			v, ok := el.Attr(r.attr)
			if !ok || (r.attr == "contenteditable" && strings.EqualFold(v, "false")) {
				continue
			}
		}
		switch tag {
		case "input":
			if typ, _ := el.Attr("type"); strings.EqualFold(typ, "hidden") {
				continue
			}
		case "summary":
			if p := el.Parent(); p == nil || p.TagName() != "details" {
				continue
			}
		}
		return true
	}
	return false
}

// AccessibleName follows aria-label, aria-labelledby, <label for>, alt, title,
// then text content. The first non-empty source wins.
func (r *Resolver) AccessibleName(el dom.Element) string {
	if el == nil {
		return ""
	}
	if v := attrTrim(el, "aria-label"); v != "" {
		return v
	}
	if ids := attrTrim(el, "aria-labelledby"); ids != "" {
		var parts []string
		for _, id := range strings.Fields(ids) {
			if target := r.doc.ElementByID(id); target != nil {
				if t := collapse(target.TextContent()); t != "" {
					parts = append(parts, t)
				}
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	if name := r.labelText(el); name != "" {
		return name
	}
	if hasAlt(el) {
		if v := attrTrim(el, "alt"); v != "" {
			return v
		}
	}
	if v := attrTrim(el, "title"); v != "" {
		return v
	}
	return collapse(el.TextContent())
}

func (r *Resolver) labelText(el dom.Element) string {
	if id, ok := el.Attr("id"); ok && id != "" {
		labels, err := r.doc.QuerySelectorAll(`label[for="` + strings.ReplaceAll(id, `"`, `\"`) + `"]`)
		if err == nil {
			for _, l := range labels {
				if t := collapse(l.TextContent()); t != "" {
					return t
				}
			}
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		if p.TagName() == "label" {
			return collapse(p.TextContent())
		}
	}
	return ""
}

func hasAlt(el dom.Element) bool {
	switch el.TagName() {
	case "img", "area":
		return true
	case "input":
		typ, _ := el.Attr("type")
		return strings.EqualFold(typ, "image")
	}
	return false
}

func attrTrim(el dom.Element, name string) string {
	v, _ := el.Attr(name)
	return strings.TrimSpace(v)
}

// collapse trims and folds internal whitespace runs to one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
