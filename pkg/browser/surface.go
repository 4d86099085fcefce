package browser

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/a11ylens/internal/focusorder"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
)

// OverlaySurface draws overlay boxes inside the tab. Each Apply is a single
// evaluation carrying the whole batch.
type OverlaySurface struct{ p *Page }

var _ overlay.Surface = (*OverlaySurface)(nil)

func (s *OverlaySurface) Apply(ctx context.Context, ops []overlay.Op) error {
	if len(ops) == 0 {
		return nil
	}
	var failed int
	if err := s.p.eval(ctx, &failed, `(ops) => window.__a11ylens.overlay(ops)`, ops); err != nil {
		return fmt.Errorf("browser: apply overlay: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("browser: %d of %d overlay ops failed", failed, len(ops))
	}
	return nil
}

func (s *OverlaySurface) Destroy(ctx context.Context) error {
	return s.p.eval(ctx, nil, `() => window.__a11ylens.destroyOverlay()`)
}

// FocusCanvas draws focus-order badges and connectors into a container
// positioned in document coordinates.
type FocusCanvas struct{ p *Page }

var _ focusorder.Canvas = (*FocusCanvas)(nil)

func (c *FocusCanvas) Mount(ctx context.Context) error {
	return c.p.eval(ctx, nil, `() => window.__a11ylens.focusMount()`)
}

// Draw offsets the viewport-relative geometry by the current scroll position.
func (c *FocusCanvas) Draw(ctx context.Context, badges []focusorder.Badge, lines []focusorder.Line) error {
	if badges == nil {
		badges = []focusorder.Badge{}
	}
	if lines == nil {
		lines = []focusorder.Line{}
	}
	return c.p.eval(ctx, nil, `(b, l) => window.__a11ylens.focusDraw(b, l, window.scrollX, window.scrollY)`, badges, lines)
}

func (c *FocusCanvas) Unmount(ctx context.Context) error {
	return c.p.eval(ctx, nil, `() => window.__a11ylens.focusUnmount()`)
}
