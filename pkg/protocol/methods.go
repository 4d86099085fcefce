package protocol

import "github.com/nextlevelbuilder/a11ylens/internal/dom"

// RPC method names.
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"

	// MethodBusPublish relays a panel-side bus event to the page (params: bus.Event).
	MethodBusPublish = "bus.publish"

	MethodElementAt      = "element.at"
	MethodElementInfo    = "element.info"
	MethodElementCapture = "element.capture"

	MethodFocusOrderEntries = "focusorder.entries"
	MethodOverlayLayers     = "overlay.layers"
	MethodInspectorState    = "inspector.state"
	MethodConfigGet         = "config.get"

	// MethodPageAXTree outlines the browser's accessibility tree
	// (params: optional browser.AXOptions).
	MethodPageAXTree = "page.axtree"
)

type ConnectParams struct {
	Token  string `json:"token,omitempty"`
	Client string `json:"client,omitempty"`
}

type ConnectResult struct {
	Protocol int    `json:"protocol"`
	ClientID string `json:"clientId"`
	TabID    string `json:"tabId,omitempty"`
	Server   string `json:"server"`
	Version  string `json:"version"`
}

type ElementAtParams struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type SelectorParams struct {
	Selector string `json:"selector"`
}

// CaptureResult is a PNG screenshot of one element, base64 encoded.
type CaptureResult struct {
	Selector string   `json:"selector"`
	Rect     dom.Rect `json:"rect"`
	PNG      string   `json:"png"`
}
