package engine

import (
	"context"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// InputHandler is the handler for input nodes. Field validation and coercion
// already happened before the execution was created, so it returns the coerced
// input as the node's own data, making the input node referenceable by name
// from later nodes.
type InputHandler struct{}

func (h *InputHandler) Execute(_ context.Context, ec *ExecutionContext, _ *schema.FlowNode) (*NodeResult, error) {
	data := make(map[string]any, len(ec.Input))
	for k, v := range ec.Input {
		data[k] = v
	}
	return &NodeResult{Data: data, Attempts: 1}, nil
}
