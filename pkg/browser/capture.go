package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

var errOutsideViewport = errors.New("browser: rect lies outside the captured viewport")

// Capture screenshots the viewport and crops it to rect, which is in CSS
// pixels. The result is a PNG at device resolution.
func (p *Page) Capture(ctx context.Context, rect dom.Rect) ([]byte, error) {
	dpr := 1.0
	if err := p.eval(ctx, &dpr, `() => window.devicePixelRatio || 1`); err != nil {
		return nil, fmt.Errorf("browser: device pixel ratio: %w", err)
	}
	shot, err := p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return cropPNG(shot, rect, dpr)
}

func cropPNG(shot []byte, rect dom.Rect, scale float64) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("browser: decode screenshot: %w", err)
	}
	r := scaleRect(rect, scale).Intersect(img.Bounds())
	if r.Empty() {
		return nil, errOutsideViewport
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Crop(img, r), imaging.PNG); err != nil {
		return nil, fmt.Errorf("browser: encode capture: %w", err)
	}
	return buf.Bytes(), nil
}

// scaleRect converts CSS pixels to device pixels, growing to whole pixels.
func scaleRect(r dom.Rect, scale float64) image.Rectangle {
	if scale <= 0 {
		scale = 1
	}
	return image.Rect(
		int(math.Floor(r.X*scale)),
		int(math.Floor(r.Y*scale)),
		int(math.Ceil((r.X+r.Width)*scale)),
		int(math.Ceil((r.Y+r.Height)*scale)),
	)
}
