package methods

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/internal/resolver"
	"github.com/nextlevelbuilder/a11ylens/internal/session"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// Capturer takes a PNG screenshot of a viewport rectangle.
type Capturer interface {
	Capture(ctx context.Context, rect dom.Rect) ([]byte, error)
}

// ElementMethods handles element.at, element.info and element.capture.
// Every DOM read runs on the session loop.
type ElementMethods struct {
	sess    *session.Session
	capture Capturer // nil disables element.capture
}

func NewElementMethods(sess *session.Session, capture Capturer) *ElementMethods {
	return &ElementMethods{sess: sess, capture: capture}
}

func (m *ElementMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodElementAt, m.handleAt)
	router.Register(protocol.MethodElementInfo, m.handleInfo)
	router.Register(protocol.MethodElementCapture, m.handleCapture)
}

func (m *ElementMethods) handleAt(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.ElementAtParams
	if err := decodeParams(req, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
		return
	}

	var (
		info  resolver.ElementInfo
		found bool
	)
	err := m.sess.Do(ctx, func() {
		res := m.sess.Resolver()
		if el := res.ResolveAt(ctx, params.X, params.Y); el != nil {
			info, found = res.Info(el), true
		}
	})
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	if !found {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "no element at point"))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, info))
}

func (m *ElementMethods) handleInfo(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	info, code, err := m.lookup(ctx, req)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, code, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, info))
}

func (m *ElementMethods) handleCapture(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.capture == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrFailedPrecondition, "capture is not available for this page"))
		return
	}
	info, code, err := m.lookup(ctx, req)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, code, err.Error()))
		return
	}
	if info.Rect.Area() <= 0 {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrFailedPrecondition, "element has no box"))
		return
	}

	png, err := m.capture.Capture(ctx, info.Rect)
	if err != nil {
		slog.Warn("gateway.capture_failed", "selector", info.Selector, "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, protocol.CaptureResult{
		Selector: info.Selector,
		Rect:     info.Rect,
		PNG:      base64.StdEncoding.EncodeToString(png),
	}))
}

// lookup resolves the selector param to the first matching element.
func (m *ElementMethods) lookup(ctx context.Context, req *protocol.RequestFrame) (resolver.ElementInfo, string, error) {
	var params protocol.SelectorParams
	if err := decodeParams(req, &params); err != nil {
		return resolver.ElementInfo{}, protocol.ErrInvalidRequest, err
	}
	if params.Selector == "" {
		return resolver.ElementInfo{}, protocol.ErrInvalidRequest, errSelectorRequired
	}

	var (
		info     resolver.ElementInfo
		matches  []dom.Element
		queryErr error
	)
	err := m.sess.Do(ctx, func() {
		matches, queryErr = m.sess.Document().QuerySelectorAll(params.Selector)
		if queryErr == nil && len(matches) > 0 {
			info = m.sess.Resolver().Info(matches[0])
		}
	})
	switch {
	case err != nil:
		return info, protocol.ErrUnavailable, err
	case queryErr != nil:
		return info, protocol.ErrInvalidRequest, queryErr
	case len(matches) == 0:
		return info, protocol.ErrNotFound, fmt.Errorf("no element matches %q", params.Selector)
	}
	return info, "", nil
}

func decodeParams(req *protocol.RequestFrame, v any) error {
	if len(req.Params) == 0 {
		return errParamsRequired
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

var (
	errParamsRequired   = errors.New("params are required")
	errSelectorRequired = errors.New("selector is required")
)
