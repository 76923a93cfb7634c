package engine

import "context"

// AgentRequest is one invocation of an external language-model agent.
type AgentRequest struct {
	AgentID       string   `json:"agent_id"`
	Prompt        string   `json:"prompt"`
	Skills        []string `json:"skills,omitempty"`
	ModelOverride string   `json:"model_override,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
}

// AgentResult is the agent's response with reported usage.
type AgentResult struct {
	Output     string  `json:"output"`
	TokensUsed int64   `json:"tokens_used"`
	Cost       float64 `json:"cost"`
}

// AgentRunner invokes an external agent. A non-nil result may accompany an
// error when the call failed after consuming tokens; the engine bills that
// partial usage regardless of the outcome.
type AgentRunner interface {
	Invoke(ctx context.Context, req AgentRequest) (*AgentResult, error)
}

// AgentRunnerFunc adapts a function to the AgentRunner interface.
type AgentRunnerFunc func(ctx context.Context, req AgentRequest) (*AgentResult, error)

func (f AgentRunnerFunc) Invoke(ctx context.Context, req AgentRequest) (*AgentResult, error) {
	return f(ctx, req)
}
