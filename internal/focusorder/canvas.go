package focusorder

import (
	"context"
	"math"
	"sync"
)

// BadgeSize is the diameter of a numbered badge in CSS pixels.
const BadgeSize = 22

// Badge is a numbered marker drawn just above an element's top-left corner.
type Badge struct {
	Index int     `json:"index"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Line joins the centers of two consecutive tab stops. It starts at (X, Y),
// runs Length pixels and is rotated Angle degrees clockwise from the x axis.
type Line struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Length float64 `json:"length"`
	Angle  float64 `json:"angle"`
}

// Canvas draws the focus order. Mount injects the style sheet and container,
// Unmount removes both.
type Canvas interface {
	Mount(ctx context.Context) error
	Draw(ctx context.Context, badges []Badge, lines []Line) error
	Unmount(ctx context.Context) error
}

// Layout computes badges and lines for entries.
func Layout(entries []Entry) ([]Badge, []Line) {
	badges := make([]Badge, 0, len(entries))
	var lines []Line
	for i, e := range entries {
		badges = append(badges, badgeFor(e))
		if i == 0 {
			continue
		}
		lines = append(lines, lineBetween(entries[i-1], e))
	}
	return badges, lines
}

func badgeFor(e Entry) Badge {
	return Badge{Index: e.Index, X: e.Rect.X, Y: math.Max(0, e.Rect.Y-BadgeSize)}
}

func lineBetween(prev, cur Entry) Line {
	x1, y1 := prev.Rect.Center()
	x2, y2 := cur.Rect.Center()
	dx, dy := x2-x1, y2-y1
	return Line{
		From:   prev.Index,
		To:     cur.Index,
		X:      x1,
		Y:      y1,
		Length: math.Hypot(dx, dy),
		Angle:  math.Atan2(dy, dx) * 180 / math.Pi,
	}
}

// MemoryCanvas records what would be drawn.
type MemoryCanvas struct {
	mu          sync.Mutex
	styleSheets int
	containers  int
	badges      []Badge
	lines       []Line
	mounts      int
}

func NewMemoryCanvas() *MemoryCanvas { return &MemoryCanvas{} }

func (c *MemoryCanvas) Mount(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.containers == 0 {
		c.styleSheets, c.containers = 1, 1
		c.mounts++
	}
	return nil
}

func (c *MemoryCanvas) Draw(_ context.Context, badges []Badge, lines []Line) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.badges = append([]Badge(nil), badges...)
	c.lines = append([]Line(nil), lines...)
	return nil
}

func (c *MemoryCanvas) Unmount(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.styleSheets, c.containers = 0, 0
	c.badges, c.lines = nil, nil
	return nil
}

// Injected returns the number of style sheets and containers currently mounted.
func (c *MemoryCanvas) Injected() (styleSheets, containers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.styleSheets, c.containers
}

// Drawn returns the last badges and lines.
func (c *MemoryCanvas) Drawn() ([]Badge, []Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Badge(nil), c.badges...), append([]Line(nil), c.lines...)
}

// Mounts counts fresh mounts.
func (c *MemoryCanvas) Mounts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounts
}
