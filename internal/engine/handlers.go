package engine

import (
	"context"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// NodeResult is the outcome of one node handler invocation.
type NodeResult struct {
	Data       map[string]any `json:"data,omitempty"`
	TokensUsed int64          `json:"tokens_used,omitempty"`
	Cost       float64        `json:"cost,omitempty"`
	Attempts   int            `json:"attempts"`
}

// NodeHandler executes one node type. Handlers receive the execution context
// for accumulated data and usage reporting; they must not advance the chain
// themselves.
type NodeHandler interface {
	Execute(ctx context.Context, ec *ExecutionContext, node *schema.FlowNode) (*NodeResult, error)
}

// handlerTable builds the dispatch table keyed by node type.
func (e *Engine) handlerTable() map[schema.NodeType]NodeHandler {
	return map[schema.NodeType]NodeHandler{
		schema.NodeTypeInput:  &InputHandler{},
		schema.NodeTypeAgent:  NewAgentHandler(e.runner, e.interp),
		schema.NodeTypeOutput: NewOutputHandler(e.transformer, e.interp, e.httpClient),
	}
}
