package resolver

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/nextlevelbuilder/a11ylens/internal/dom"
)

// Filter is a compiled CEL predicate over an element. Variables: tag, id,
// classes, attrs, width, height.
//
//	tag == "svg" || "ad-slot" in classes || height < 8.0
type Filter struct {
	expr string
	prg  cel.Program
}

// NewFilter compiles expr. The expression must evaluate to a bool.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("tag", cel.StringType),
		cel.Variable("id", cel.StringType),
		cel.Variable("classes", cel.ListType(cel.StringType)),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("width", cel.DoubleType),
		cel.Variable("height", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("resolver: cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("resolver: compile exclude expression: %w", iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("resolver: exclude expression must be bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("resolver: cel program: %w", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match reports whether el is excluded. Evaluation errors count as no match.
func (f *Filter) Match(el dom.Element) bool {
	id, _ := el.Attr("id")
	classes := dom.ClassList(el)
	if classes == nil {
		classes = []string{}
	}
	r := el.Rect()
	out, _, err := f.prg.Eval(map[string]any{
		"tag":     el.TagName(),
		"id":      id,
		"classes": classes,
		"attrs":   el.Attributes(),
		"width":   r.Width,
		"height":  r.Height,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
