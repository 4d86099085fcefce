// Package resolver answers the geometric and semantic questions the inspector
// asks about host elements: what is under a point, how to address an element
// again later, and how assistive technology will describe it.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

const tracerName = "github.com/nextlevelbuilder/a11ylens/internal/resolver"

// DefaultMinArea filters invisible 0-2px wrapper nodes out of hit-testing.
const DefaultMinArea = 4.0

// DefaultMemoSize bounds the selector memo.
const DefaultMemoSize = 512

// Options tunes a Resolver.
type Options struct {
	// MinArea is the bounding-box area (px²) a hit must exceed. Zero means DefaultMinArea.
	MinArea float64
	// ExcludeExpr is an optional CEL expression; hits for which it evaluates to
	// true are skipped.
	ExcludeExpr string
	MemoSize    int
	Logger      *slog.Logger
}

// Resolver is bound to one document.
type Resolver struct {
	doc    dom.Document
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	minArea float64
	filter  *Filter

	memo *lru.Cache[string, string]
}

// New creates a Resolver for doc.
func New(doc dom.Document, opts Options) (*Resolver, error) {
	if opts.MinArea <= 0 {
		opts.MinArea = DefaultMinArea
	}
	if opts.MemoSize <= 0 {
		opts.MemoSize = DefaultMemoSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	memo, err := lru.New[string, string](opts.MemoSize)
	if err != nil {
		return nil, fmt.Errorf("resolver: memo: %w", err)
	}
	r := &Resolver{
		doc:     doc,
		logger:  opts.Logger,
		tracer:  otel.Tracer(tracerName),
		minArea: opts.MinArea,
		memo:    memo,
	}
	if err := r.SetExcludeExpr(opts.ExcludeExpr); err != nil {
		return nil, err
	}
	return r, nil
}

// Document returns the document the resolver is bound to.
func (r *Resolver) Document() dom.Document { return r.doc }

// SetMinArea changes the hit-test size threshold. Values <= 0 restore the default.
func (r *Resolver) SetMinArea(area float64) {
	if area <= 0 {
		area = DefaultMinArea
	}
	r.mu.Lock()
	r.minArea = area
	r.mu.Unlock()
}

// MinArea returns the current hit-test size threshold.
func (r *Resolver) MinArea() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minArea
}

// SetExcludeExpr compiles and installs a CEL exclusion expression. An empty
// expression removes the filter.
func (r *Resolver) SetExcludeExpr(expr string) error {
	var f *Filter
	if expr != "" {
		var err error
		if f, err = NewFilter(expr); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.filter = f
	r.mu.Unlock()
	return nil
}

// ResolveAt returns the topmost qualifying element at the viewport point, or
// nil when nothing qualifies.
func (r *Resolver) ResolveAt(ctx context.Context, x, y float64, exclude ...dom.Element) dom.Element {
	_, span := r.tracer.Start(ctx, "resolver.resolve_at",
		trace.WithAttributes(attribute.Float64("x", x), attribute.Float64("y", y)))
	defer span.End()

	r.mu.RLock()
	minArea, filter := r.minArea, r.filter
	r.mu.RUnlock()

	stack := r.doc.ElementsFromPoint(x, y)
	span.SetAttributes(attribute.Int("stack.depth", len(stack)))

	for _, el := range stack {
		if excluded(el, exclude) {
			continue
		}
		if dom.InReservedTree(el) {
			continue
		}
		if el.Rect().Area() <= minArea {
			continue
		}
		if filter != nil && filter.Match(el) {
			continue
		}
		span.SetAttributes(attribute.String("hit.tag", el.TagName()))
		return el
	}
	return nil
}

// Invalidate drops every memoized selector. Called on DOM mutation.
func (r *Resolver) Invalidate() {
	r.memo.Purge()
}

func excluded(el dom.Element, exclude []dom.Element) bool {
	for _, ex := range exclude {
		if dom.SameElement(el, ex) {
			return true
		}
	}
	return false
}
