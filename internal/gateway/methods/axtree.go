package methods

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/pkg/browser"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// AXSource produces the browser's accessibility tree outline.
type AXSource interface {
	AXTree(ctx context.Context, opts browser.AXOptions) (*browser.AXSnapshot, error)
}

// AXMethods handles page.axtree. It is registered only when the session
// runs against a real browser.
type AXMethods struct {
	src AXSource
}

func NewAXMethods(src AXSource) *AXMethods {
	return &AXMethods{src: src}
}

func (m *AXMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodPageAXTree, m.handleAXTree)
}

func (m *AXMethods) handleAXTree(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var opts browser.AXOptions
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &opts); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
			return
		}
	}
	snap, err := m.src.AXTree(ctx, opts)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, snap))
}
