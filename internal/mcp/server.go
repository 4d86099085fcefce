// Package mcp exposes a running inspect session to MCP clients as tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/a11ylens/internal/audit"
	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway/methods"
	"github.com/nextlevelbuilder/a11ylens/internal/inspector"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/pkg/browser"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// Backend is the panel surface the tools drive. *panel.Panel implements it.
type Backend interface {
	Inspector(ctx context.Context, cmd bus.InspectorCommandKind) (bus.Event, error)
	FocusOrder(ctx context.Context, cmd bus.FocusOrderCommandKind) (bus.Event, error)
	ToggleLayer(ctx context.Context, layer string, visible *bool) (bus.Event, error)
	Highlight(ctx context.Context, h bus.Highlight) (bus.Event, error)
	ElementAt(ctx context.Context, x, y float64) (resolver.ElementInfo, error)
	ElementInfo(ctx context.Context, selector string) (resolver.ElementInfo, error)
	Capture(ctx context.Context, selector string) (protocol.CaptureResult, error)
	FocusOrderEntries(ctx context.Context) (methods.FocusOrderResult, error)
	Layers(ctx context.Context) ([]overlay.LayerState, error)
	InspectorState(ctx context.Context) (inspector.State, error)
	AXTree(ctx context.Context, opts browser.AXOptions) (*browser.AXSnapshot, error)
}

// DefaultToolTimeout bounds one tool call.
const DefaultToolTimeout = 30 * time.Second

// Tools binds MCP tool handlers to a backend.
type Tools struct {
	backend Backend
	timeout time.Duration
}

func NewTools(backend Backend, timeout time.Duration) *Tools {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Tools{backend: backend, timeout: timeout}
}

type toolHandler func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)

// Definitions returns every tool with its handler.
func (t *Tools) Definitions() []server.ServerTool {
	def := func(tool mcpgo.Tool, h toolHandler) server.ServerTool {
		return server.ServerTool{Tool: tool, Handler: t.bounded(h)}
	}
	return []server.ServerTool{
		def(mcpgo.NewTool("a11y_element_at",
			mcpgo.WithDescription("Describe the element at a viewport point: selector, role, accessible name, box and focusability."),
			mcpgo.WithNumber("x", mcpgo.Required(), mcpgo.Description("Viewport x in CSS pixels")),
			mcpgo.WithNumber("y", mcpgo.Required(), mcpgo.Description("Viewport y in CSS pixels")),
		), t.elementAt),
		def(mcpgo.NewTool("a11y_element_info",
			mcpgo.WithDescription("Describe the first element matching a CSS selector."),
			mcpgo.WithString("selector", mcpgo.Required(), mcpgo.Description("CSS selector")),
		), t.elementInfo),
		def(mcpgo.NewTool("a11y_capture_element",
			mcpgo.WithDescription("Screenshot one element as PNG."),
			mcpgo.WithString("selector", mcpgo.Required(), mcpgo.Description("CSS selector")),
		), t.capture),
		def(mcpgo.NewTool("a11y_focus_order",
			mcpgo.WithDescription("List the keyboard tab order with findings (positive tabindex, missing accessible names)."),
		), t.focusOrder),
		def(mcpgo.NewTool("a11y_show_focus_order",
			mcpgo.WithDescription("Draw or remove numbered tab-order badges on the page."),
			mcpgo.WithBoolean("visible", mcpgo.Required(), mcpgo.Description("true to draw, false to remove")),
		), t.showFocusOrder),
		def(mcpgo.NewTool("a11y_inspector",
			mcpgo.WithDescription("Control hover inspection on the page."),
			mcpgo.WithString("command", mcpgo.Required(),
				mcpgo.Enum(string(bus.InspectorStart), string(bus.InspectorStop), string(bus.InspectorToggleDebug),
					string(bus.InspectorToggleDeepInspection), string(bus.InspectorToggleClickThrough)),
			),
		), t.inspectorCommand),
		def(mcpgo.NewTool("a11y_inspector_state",
			mcpgo.WithDescription("Report inspector modes and the hovered and selected elements."),
		), t.inspectorState),
		def(mcpgo.NewTool("a11y_highlight",
			mcpgo.WithDescription("Draw or clear a labelled highlight box around an element."),
			mcpgo.WithString("selector", mcpgo.Required(), mcpgo.Description("CSS selector")),
			mcpgo.WithString("message", mcpgo.Description("Label shown with the box")),
			mcpgo.WithString("layer", mcpgo.Description("Overlay layer, default inspector")),
			mcpgo.WithBoolean("valid", mcpgo.Description("Valid (default) or invalid styling")),
			mcpgo.WithBoolean("clear", mcpgo.Description("Remove the highlight instead")),
		), t.highlight),
		def(mcpgo.NewTool("a11y_layers",
			mcpgo.WithDescription("List overlay layers with visibility and highlighted selectors."),
		), t.layers),
		def(mcpgo.NewTool("a11y_toggle_layer",
			mcpgo.WithDescription("Show, hide or flip an overlay layer."),
			mcpgo.WithString("layer", mcpgo.Required()),
			mcpgo.WithString("visible", mcpgo.Enum("show", "hide", "toggle"), mcpgo.Description("Default toggle")),
		), t.toggleLayer),
		def(mcpgo.NewTool("a11y_ax_tree",
			mcpgo.WithDescription("Outline the browser's accessibility tree and flag interactive nodes without an accessible name."),
			mcpgo.WithBoolean("interactive", mcpgo.Description("Only interactive nodes")),
			mcpgo.WithBoolean("compact", mcpgo.Description("Drop unnamed structural nodes")),
			mcpgo.WithNumber("max_depth", mcpgo.Description("Deepest level to include, 0 for all")),
		), t.axTree),
	}
}

// NewServer builds an MCP server exposing the tools.
func NewServer(t *Tools, version string) *server.MCPServer {
	s := server.NewMCPServer("a11ylens", version, server.WithToolCapabilities(false))
	s.AddTools(t.Definitions()...)
	return s
}

// bounded applies the per-call timeout and turns Go errors into tool errors.
func (t *Tools) bounded(h toolHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		res, err := h(ctx, req)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return mcpgo.NewToolResultError(fmt.Sprintf("%s timed out after %s", req.Params.Name, t.timeout)), nil
			}
			return mcpgo.NewToolResultError(err.Error()), nil
		}
		return res, nil
	}
}

func (t *Tools) elementAt(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	x, err := req.RequireFloat("x")
	if err != nil {
		return nil, err
	}
	y, err := req.RequireFloat("y")
	if err != nil {
		return nil, err
	}
	info, err := t.backend.ElementAt(ctx, x, y)
	if err != nil {
		return nil, err
	}
	return jsonResult(info)
}

func (t *Tools) elementInfo(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	sel, err := req.RequireString("selector")
	if err != nil {
		return nil, err
	}
	info, err := t.backend.ElementInfo(ctx, sel)
	if err != nil {
		return nil, err
	}
	return jsonResult(info)
}

func (t *Tools) capture(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	sel, err := req.RequireString("selector")
	if err != nil {
		return nil, err
	}
	res, err := t.backend.Capture(ctx, sel)
	if err != nil {
		return nil, err
	}
	caption := fmt.Sprintf("%s %.0fx%.0f at (%.0f, %.0f)", res.Selector, res.Rect.Width, res.Rect.Height, res.Rect.X, res.Rect.Y)
	return mcpgo.NewToolResultImage(caption, res.PNG, "image/png"), nil
}

func (t *Tools) focusOrder(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	res, err := t.backend.FocusOrderEntries(ctx)
	if err != nil {
		return nil, err
	}
	infos := make(map[string]resolver.ElementInfo, len(res.Entries))
	for _, e := range res.Entries {
		info, err := t.backend.ElementInfo(ctx, e.Selector)
		if err != nil {
			continue
		}
		infos[e.Selector] = info
	}
	report := audit.Check(res.Entries, func(sel string) (resolver.ElementInfo, bool) {
		info, ok := infos[sel]
		return info, ok
	}, audit.Options{Geometry: true})
	return jsonResult(report)
}

func (t *Tools) showFocusOrder(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	visible, err := req.RequireBool("visible")
	if err != nil {
		return nil, err
	}
	cmd := bus.FocusOrderStop
	if visible {
		cmd = bus.FocusOrderStart
	}
	if _, err := t.backend.FocusOrder(ctx, cmd); err != nil {
		return nil, err
	}
	return mcpgo.NewToolResultText("focus order " + string(cmd)), nil
}

func (t *Tools) inspectorCommand(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	cmd, err := req.RequireString("command")
	if err != nil {
		return nil, err
	}
	kind := bus.InspectorCommandKind(cmd)
	switch kind {
	case bus.InspectorStart, bus.InspectorStop, bus.InspectorToggleDebug,
		bus.InspectorToggleDeepInspection, bus.InspectorToggleClickThrough:
	default:
		return nil, fmt.Errorf("unknown inspector command %q", cmd)
	}
	if _, err := t.backend.Inspector(ctx, kind); err != nil {
		return nil, err
	}
	return mcpgo.NewToolResultText("inspector " + cmd), nil
}

func (t *Tools) inspectorState(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	st, err := t.backend.InspectorState(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResult(st)
}

func (t *Tools) highlight(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	sel, err := req.RequireString("selector")
	if err != nil {
		return nil, err
	}
	h := bus.Highlight{
		Selector: sel,
		Message:  req.GetString("message", ""),
		Layer:    req.GetString("layer", overlay.LayerInspector),
		IsValid:  req.GetBool("valid", true),
		Clear:    req.GetBool("clear", false),
	}
	if _, err := t.backend.Highlight(ctx, h); err != nil {
		return nil, err
	}
	verb := "highlighted"
	if h.Clear {
		verb = "cleared"
	}
	return mcpgo.NewToolResultText(fmt.Sprintf("%s %s on %s", verb, sel, h.Layer)), nil
}

func (t *Tools) layers(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	layers, err := t.backend.Layers(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResult(layers)
}

func (t *Tools) toggleLayer(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	layer, err := req.RequireString("layer")
	if err != nil {
		return nil, err
	}
	var visible *bool
	switch mode := strings.ToLower(req.GetString("visible", "toggle")); mode {
	case "show", "hide":
		v := mode == "show"
		visible = &v
	case "toggle", "":
	default:
		return nil, fmt.Errorf("visible must be show, hide or toggle, got %q", mode)
	}
	ev, err := t.backend.ToggleLayer(ctx, layer, visible)
	if err != nil {
		return nil, err
	}
	if r, ok := ev.Data.(bus.LayerToggleRequest); ok {
		layer = r.Layer
	}
	return mcpgo.NewToolResultText("layer " + layer + " updated"), nil
}

func (t *Tools) axTree(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	snap, err := t.backend.AXTree(ctx, browser.AXOptions{
		Interactive: req.GetBool("interactive", false),
		Compact:     req.GetBool("compact", false),
		MaxDepth:    req.GetInt("max_depth", 0),
	})
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("%d interactive nodes, %d without an accessible name", snap.Interactive, len(snap.Unnamed))
	if snap.Truncated {
		summary += " (outline truncated)"
	}
	return mcpgo.NewToolResultText(snap.Outline + "\n\n" + summary), nil
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcpgo.NewToolResultText(string(data)), nil
}
