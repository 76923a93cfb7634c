package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/flowline-dev/flowline/internal/engine"
	"github.com/flowline-dev/flowline/pkg/schema"
)

const defaultModel = "gpt-4o-mini"

// modelPricing holds per-million-token USD rates.
type modelPricing struct {
	Input  float64
	Output float64
}

// Pricing for the models we route to. Unknown models bill at zero cost but
// still report token counts.
var pricingTable = map[string]modelPricing{
	"gpt-4o":       {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":  {Input: 0.15, Output: 0.60},
	"gpt-4.1":      {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini": {Input: 0.40, Output: 1.60},
	"o3-mini":      {Input: 1.10, Output: 4.40},
}

// OpenAIRunner invokes agents through the OpenAI Chat Completions API.
// It uses /v1/chat/completions, so any OpenAI-compatible provider works
// through a custom base URL.
type OpenAIRunner struct {
	client openai.Client
	model  string
}

// NewOpenAIRunner creates a Chat Completions backed runner. model is the
// default when a node carries no model override; baseURL may be empty for
// the hosted OpenAI API.
func NewOpenAIRunner(apiKey, model, baseURL string) *OpenAIRunner {
	if model == "" {
		model = defaultModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIRunner{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (r *OpenAIRunner) Invoke(ctx context.Context, req engine.AgentRequest) (*engine.AgentResult, error) {
	model := r.model
	if req.ModelOverride != "" {
		model = req.ModelOverride
	}

	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(req)),
			openai.UserMessage(req.Prompt),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "agent %s: %v", req.AgentID, err).WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return usageResult("", resp.Usage, model), schema.NewErrorf(schema.ErrCodeAgent, "agent %s: empty completion", req.AgentID)
	}

	return usageResult(resp.Choices[0].Message.Content, resp.Usage, model), nil
}

// systemPrompt frames the completion around the agent identity and its
// declared skills.
func systemPrompt(req engine.AgentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %q agent in an automated workflow. ", req.AgentID)
	b.WriteString("Respond with the task result only, no preamble.")
	if len(req.Skills) > 0 {
		fmt.Fprintf(&b, " Apply these skills: %s.", strings.Join(req.Skills, ", "))
	}
	return b.String()
}

func usageResult(output string, usage openai.CompletionUsage, model string) *engine.AgentResult {
	return &engine.AgentResult{
		Output:     output,
		TokensUsed: usage.PromptTokens + usage.CompletionTokens,
		Cost:       computeCost(model, usage.PromptTokens, usage.CompletionTokens),
	}
}

// computeCost converts token counts to USD using the per-million rates.
func computeCost(model string, promptTokens, completionTokens int64) float64 {
	p, ok := pricingTable[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*p.Input + float64(completionTokens)/1e6*p.Output
}

var _ engine.AgentRunner = (*OpenAIRunner)(nil)
