package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowline-dev/flowline/internal/expressions"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// AgentHandler is the handler for agent nodes. It renders the prompt template
// against the accumulated data, invokes the external runner under the node's
// own deadline, and retries per the node's policy with non-decreasing backoff.
type AgentHandler struct {
	runner AgentRunner
	interp *expressions.Interpolator
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(runner AgentRunner, interp *expressions.Interpolator) *AgentHandler {
	return &AgentHandler{runner: runner, interp: interp}
}

func (h *AgentHandler) Execute(ctx context.Context, ec *ExecutionContext, node *schema.FlowNode) (*NodeResult, error) {
	cfg := node.Agent
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "agent node missing agent config").WithNode(node.NodeID)
	}
	if h.runner == nil {
		return nil, schema.NewError(schema.ErrCodeAgent, "no agent runner configured").WithNode(node.NodeID)
	}

	prompt := h.interp.Render(cfg.PromptTemplate, ec.Data(), ec.Input)
	req := AgentRequest{
		AgentID:       cfg.AgentID,
		Prompt:        prompt,
		Skills:        cfg.Skills,
		ModelOverride: cfg.ModelOverride,
		MaxTokens:     cfg.MaxTokens,
	}

	maxAttempts := 1
	if cfg.RetryOnError {
		maxAttempts = cfg.MaxRetries + 1
	}

	var lastErr error
	var nodeTokens int64
	var nodeCost float64
	attempts := 0

	for attempts < maxAttempts {
		attempts++

		result, err := h.invokeOnce(ctx, req, cfg.TimeoutMs)
		if err == nil && result == nil {
			err = schema.NewErrorf(schema.ErrCodeAgent, "agent %s returned no result", cfg.AgentID)
		}
		if result != nil {
			// Usage is billed whether or not the call succeeded.
			ec.AddUsage(result.TokensUsed, result.Cost)
			nodeTokens += result.TokensUsed
			nodeCost += result.Cost
		}
		if err == nil {
			return &NodeResult{
				Data:       map[string]any{"output": result.Output},
				TokensUsed: nodeTokens,
				Cost:       nodeCost,
				Attempts:   attempts,
			}, nil
		}
		lastErr = err

		if attempts >= maxAttempts || !IsRetryableError(err) {
			break
		}

		ec.Log("warn",
			fmt.Sprintf("agent call failed (attempt %d/%d), retrying: %v", attempts, maxAttempts, err),
			node.NodeID)
		if werr := WaitForBackoff(ctx, ComputeBackoff(attempts-1)); werr != nil {
			lastErr = werr
			break
		}
	}

	code := schema.ErrCodeAgent
	if errors.Is(lastErr, context.DeadlineExceeded) {
		code = schema.ErrCodeTimeout
	} else if cfg.RetryOnError && attempts >= maxAttempts {
		code = schema.ErrCodeRetryExhausted
	}
	return &NodeResult{TokensUsed: nodeTokens, Cost: nodeCost, Attempts: attempts},
		schema.NewErrorf(code, "agent %s failed after %d attempt(s): %v", cfg.AgentID, attempts, lastErr).
			WithNode(node.NodeID).WithCause(lastErr)
}

// invokeOnce calls the runner under the node's own deadline.
func (h *AgentHandler) invokeOnce(ctx context.Context, req AgentRequest, timeoutMs int) (*AgentResult, error) {
	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}
	return h.runner.Invoke(ctx, req)
}
