package resolver

import (
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// GenerateXPath returns an absolute positional XPath such as
// /html/body/div[2]/span. The [n] index appears only when the parent has more
// than one child with the same tag, so class and style churn never changes it.
func (r *Resolver) GenerateXPath(el dom.Element) string {
	if el == nil {
		return ""
	}
	var parts []string
	for cur := el; cur != nil; cur = cur.Parent() {
		tag := cur.TagName()
		parent := cur.Parent()
		if parent == nil {
			parts = append(parts, tag)
			break
		}
		pos, same := 0, 0
		for _, sib := range parent.Children() {
			if sib.TagName() != tag {
				continue
			}
			same++
			if dom.SameElement(sib, cur) {
				pos = same
			}
		}
		if same > 1 {
			tag += "[" + strconv.Itoa(pos) + "]"
		}
		parts = append(parts, tag)
	}

	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(parts[i])
	}
	return b.String()
}
