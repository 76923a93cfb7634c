package expressions

import (
	"context"
	"strings"
)

// Transform dialect prefixes recognized in an output node's transform template.
const (
	dialectJQ   = "jq:"
	dialectExpr = "expr:"
)

// Transformer applies an output node's transform template to accumulated
// execution data. Templates prefixed "jq:" run as jq programs, "expr:" as
// expr expressions; anything else is rendered as an interpolation template.
type Transformer struct {
	jq     *GoJQEngine
	expr   *ExprEngine
	interp *Interpolator
}

// NewTransformer creates a Transformer with all three dialects wired.
func NewTransformer() *Transformer {
	return &Transformer{
		jq:     NewGoJQEngine(),
		expr:   NewExprEngine(),
		interp: NewInterpolator(),
	}
}

// Apply evaluates template against data. An empty template returns data
// unchanged.
func (t *Transformer) Apply(ctx context.Context, template string, data map[string]any, input map[string]any) (any, error) {
	switch {
	case template == "":
		return data, nil
	case strings.HasPrefix(template, dialectJQ):
		return t.jq.Evaluate(ctx, strings.TrimSpace(strings.TrimPrefix(template, dialectJQ)), data)
	case strings.HasPrefix(template, dialectExpr):
		return t.expr.Evaluate(ctx, strings.TrimSpace(strings.TrimPrefix(template, dialectExpr)), data)
	default:
		return t.interp.Render(template, data, input), nil
	}
}
