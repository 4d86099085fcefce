package resolver

import (
	"strings"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// interactiveRoles are roles users operate directly.
var interactiveRoles = map[string]bool{
	"button":           true,
	"link":             true,
	"textbox":          true,
	"checkbox":         true,
	"radio":            true,
	"combobox":         true,
	"listbox":          true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"menuitemradio":    true,
	"option":           true,
	"searchbox":        true,
	"slider":           true,
	"spinbutton":       true,
	"switch":           true,
	"tab":              true,
	"treeitem":         true,
}

// contentRoles are landmarks and content a user inspects as a unit.
var contentRoles = map[string]bool{
	"heading":       true,
	"img":           true,
	"cell":          true,
	"columnheader":  true,
	"rowheader":     true,
	"listitem":      true,
	"article":       true,
	"region":        true,
	"main":          true,
	"navigation":    true,
	"banner":        true,
	"contentinfo":   true,
	"complementary": true,
	"form":          true,
	"dialog":        true,
}

// tagRoles maps element tags to implicit ARIA roles. Tags whose role depends
// on attributes are handled in implicitRole.
var tagRoles = map[string]string{
	"article":  "article",
	"aside":    "complementary",
	"button":   "button",
	"dialog":   "dialog",
	"details":  "group",
	"fieldset": "group",
	"figure":   "figure",
	"footer":   "contentinfo",
	"form":     "form",
	"h1":       "heading",
	"h2":       "heading",
	"h3":       "heading",
	"h4":       "heading",
	"h5":       "heading",
	"h6":       "heading",
	"header":   "banner",
	"hr":       "separator",
	"li":       "listitem",
	"main":     "main",
	"menu":     "list",
	"meter":    "meter",
	"nav":      "navigation",
	"ol":       "list",
	"optgroup": "group",
	"option":   "option",
	"output":   "status",
	"p":        "paragraph",
	"progress": "progressbar",
	"section":  "region",
	"table":    "table",
	"tbody":    "rowgroup",
	"td":       "cell",
	"textarea": "textbox",
	"tfoot":    "rowgroup",
	"th":       "columnheader",
	"thead":    "rowgroup",
	"tr":       "row",
	"ul":       "list",
}

// inputRoles maps <input type> to roles. Missing or unknown types are textboxes.
var inputRoles = map[string]string{
	"button":   "button",
	"checkbox": "checkbox",
	"email":    "textbox",
	"image":    "button",
	"number":   "spinbutton",
	"radio":    "radio",
	"range":    "slider",
	"reset":    "button",
	"search":   "searchbox",
	"submit":   "button",
	"tel":      "textbox",
	"text":     "textbox",
	"url":      "textbox",
}

// Role returns the explicit role (first token of the role attribute) or the
// implicit role for the element's tag. Defaults to "generic".
func Role(el dom.Element) string {
	if el == nil {
		return ""
	}
	if v, ok := el.Attr("role"); ok {
		if fields := strings.Fields(strings.ToLower(v)); len(fields) > 0 {
			return fields[0]
		}
	}
	return implicitRole(el)
}

func implicitRole(el dom.Element) string {
	tag := el.TagName()
	switch tag {
	case "a", "area":
		if _, ok := el.Attr("href"); ok {
			return "link"
		}
		return "generic"
	case "img":
		if alt, ok := el.Attr("alt"); ok && alt == "" {
			return "presentation"
		}
		return "img"
	case "input":
		typ, _ := el.Attr("type")
		typ = strings.ToLower(strings.TrimSpace(typ))
		if typ == "hidden" {
			return "generic"
		}
		if _, ok := el.Attr("list"); ok && (typ == "" || typ == "text" || typ == "search" || typ == "email" || typ == "tel" || typ == "url") {
			return "combobox"
		}
		if role, ok := inputRoles[typ]; ok {
			return role
		}
		return "textbox"
	case "select":
		if _, ok := el.Attr("multiple"); ok {
			return "listbox"
		}
		return "combobox"
	}
	if role, ok := tagRoles[tag]; ok {
		return role
	}
	return "generic"
}

// IsInteractive reports whether the role is operated directly by users.
func IsInteractive(role string) bool {
	return interactiveRoles[role]
}

// IsContent reports whether the role is meaningful content or a landmark.
func IsContent(role string) bool {
	return contentRoles[role]
}
