package expressions

import "context"

// Engine evaluates a transform expression against accumulated execution data.
// Two implementations: GoJQ (jq programs) and Expr (expression logic), both
// selectable from an output node's transform template via a dialect prefix.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
