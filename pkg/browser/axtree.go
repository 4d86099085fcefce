package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
)

// AXOptions controls the accessibility tree outline.
type AXOptions struct {
	Interactive bool `json:"interactive,omitempty"` // only interactive nodes
	MaxDepth    int  `json:"maxDepth,omitempty"`    // 0 = unlimited
	Compact     bool `json:"compact,omitempty"`     // drop unnamed structural nodes without findings below
	MaxChars    int  `json:"maxChars,omitempty"`    // truncate the outline (default 8000)
	Limit       int  `json:"limit,omitempty"`       // max AX nodes walked (default 500)
}

// AXIssue is an interactive node the browser computed no accessible name for.
type AXIssue struct {
	Role          string `json:"role"`
	Depth         int    `json:"depth"`
	BackendNodeID int    `json:"backendNodeId,omitempty"`
}

// AXSnapshot is the browser's own view of the accessibility tree, used to
// cross-check names the resolver computes.
type AXSnapshot struct {
	Outline     string    `json:"outline"`
	Lines       int       `json:"lines"`
	Interactive int       `json:"interactive"`
	Unnamed     []AXIssue `json:"unnamed,omitempty"`
	Truncated   bool      `json:"truncated,omitempty"`
	URL         string    `json:"url,omitempty"`
}

const unnamedMark = " [no name]"

// structuralRoles group other nodes. Compact mode drops the unnamed ones.
var structuralRoles = map[string]bool{
	"generic":      true,
	"group":        true,
	"list":         true,
	"table":        true,
	"row":          true,
	"rowgroup":     true,
	"grid":         true,
	"treegrid":     true,
	"menu":         true,
	"menubar":      true,
	"toolbar":      true,
	"tablist":      true,
	"tree":         true,
	"directory":    true,
	"document":     true,
	"application":  true,
	"presentation": true,
	"none":         true,
}

// AXTree fetches the full accessibility tree of the tab and outlines it.
func (p *Page) AXTree(ctx context.Context, opts AXOptions) (*AXSnapshot, error) {
	res, err := proto.AccessibilityGetFullAXTree{}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: get AX tree: %w", err)
	}
	snap := FormatAXTree(res.Nodes, opts)
	snap.URL = p.URL()
	return snap, nil
}

// axValue extracts a string value from an AXValue.
func axValue(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	if s := v.Value.Str(); s != "" {
		return s
	}
	raw := v.Value.String()
	if raw == "" || raw == "null" || raw == `""` {
		return ""
	}
	return raw
}

type axItem struct {
	node  *proto.AccessibilityAXNode
	depth int
}

// walkAX flattens CDP AX nodes into depth-first order starting at the node
// no other node lists as a child.
func walkAX(nodes []*proto.AccessibilityAXNode, limit int) []axItem {
	if len(nodes) == 0 {
		return nil
	}

	byID := make(map[proto.AccessibilityAXNodeID]*proto.AccessibilityAXNode, len(nodes))
	referenced := make(map[proto.AccessibilityAXNodeID]bool)
	for _, n := range nodes {
		if n.NodeID != "" {
			byID[n.NodeID] = n
		}
		for _, cid := range n.ChildIDs {
			referenced[cid] = true
		}
	}

	root := nodes[0]
	for _, n := range nodes {
		if n.NodeID != "" && !referenced[n.NodeID] {
			root = n
			break
		}
	}
	if root.NodeID == "" {
		return nil
	}

	var out []axItem
	type frame struct {
		id    proto.AccessibilityAXNodeID
		depth int
	}
	stack := []frame{{id: root.NodeID}}
	for len(stack) > 0 && len(out) < limit {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n, ok := byID[f.id]
		if !ok {
			continue
		}
		out = append(out, axItem{node: n, depth: f.depth})
		for i := len(n.ChildIDs) - 1; i >= 0; i-- {
			if _, ok := byID[n.ChildIDs[i]]; ok {
				stack = append(stack, frame{id: n.ChildIDs[i], depth: f.depth + 1})
			}
		}
	}
	return out
}

// FormatAXTree renders AX nodes as an indented outline, one "- role "name""
// line per node, and lists interactive nodes without a name.
func FormatAXTree(nodes []*proto.AccessibilityAXNode, opts AXOptions) *AXSnapshot {
	if opts.MaxChars == 0 {
		opts.MaxChars = 8000
	}
	if opts.Limit == 0 {
		opts.Limit = 500
	}

	snap := &AXSnapshot{}
	var lines []string
	for _, it := range walkAX(nodes, opts.Limit) {
		if it.node.Ignored {
			continue
		}
		role := strings.ToLower(axValue(it.node.Role))
		name := axValue(it.node.Name)
		value := axValue(it.node.Value)

		if (role == "" || role == "none" || role == "unknown") && name == "" {
			continue
		}
		// Text leaves repeat their parent's name.
		if role == "statictext" || role == "inlinetextbox" {
			continue
		}
		if opts.MaxDepth > 0 && it.depth > opts.MaxDepth {
			continue
		}

		interactive := resolver.IsInteractive(role)
		if opts.Interactive && !interactive {
			continue
		}
		if opts.Compact && structuralRoles[role] && name == "" {
			continue
		}

		line := strings.Repeat("  ", it.depth) + "- " + role
		if name != "" {
			line += fmt.Sprintf(" %q", name)
		}
		if interactive {
			snap.Interactive++
			if name == "" {
				line += unnamedMark
				snap.Unnamed = append(snap.Unnamed, AXIssue{
					Role:          role,
					Depth:         it.depth,
					BackendNodeID: int(it.node.BackendDOMNodeID),
				})
			}
		}
		if value != "" {
			line += fmt.Sprintf(": %q", value)
		}
		lines = append(lines, line)
	}

	snap.Lines = len(lines)
	outline := strings.Join(lines, "\n")
	if len(lines) == 0 {
		outline = "(empty page)"
	}
	if opts.Compact && len(lines) > 0 {
		outline = compactOutline(outline)
	}
	if len(outline) > opts.MaxChars {
		outline = outline[:opts.MaxChars] + "\n[...TRUNCATED]"
		snap.Truncated = true
	}
	snap.Outline = outline
	return snap
}

// compactOutline drops unnamed lines that have no named or flagged
// descendant.
func compactOutline(tree string) string {
	lines := strings.Split(tree, "\n")
	keep := func(line string) bool {
		return strings.Contains(line, `"`) || strings.Contains(line, unnamedMark)
	}

	var out []string
	for i, line := range lines {
		if keep(line) {
			out = append(out, line)
			continue
		}
		depth := indentLevel(line)
		for j := i + 1; j < len(lines) && indentLevel(lines[j]) > depth; j++ {
			if keep(lines[j]) {
				out = append(out, line)
				break
			}
		}
	}
	return strings.Join(out, "\n")
}

// indentLevel returns the number of two-space indents.
func indentLevel(line string) int {
	return (len(line) - len(strings.TrimLeft(line, " "))) / 2
}
