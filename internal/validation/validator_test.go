package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/pkg/schema"
)

func chainFlow() *schema.Flow {
	return &schema.Flow{
		ID:   "flow-1",
		Name: "Summarizer",
		Nodes: []schema.FlowNode{
			{
				NodeID:     "n1",
				Name:       "start",
				Type:       schema.NodeTypeInput,
				NextNodeID: "n2",
				Input: &schema.InputNodeConfig{
					Fields: []schema.InputField{
						{Name: "text", Type: schema.FieldTypeText, Required: true},
					},
				},
			},
			{
				NodeID:     "n2",
				Name:       "summarize",
				Type:       schema.NodeTypeAgent,
				NextNodeID: "n3",
				Agent: &schema.AgentNodeConfig{
					AgentID:        "summarizer",
					PromptTemplate: "Summarize: {{start.text}}",
				},
			},
			{
				NodeID: "n3",
				Name:   "result",
				Type:   schema.NodeTypeOutput,
				Output: &schema.OutputNodeConfig{
					OutputType: schema.OutputTypeResponse,
					Format:     schema.FormatText,
				},
			},
		},
	}
}

func TestFlowValidator_ValidFlow(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	result := v.Validate(chainFlow())
	assert.True(t, result.Valid(), "expected no errors, got: %v", result.Errors)
	assert.NoError(t, v.ValidateFlow(chainFlow()))
}

func TestFlowValidator_NilFlow(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	result := v.Validate(nil)
	assert.False(t, result.Valid())
}

func TestFlowValidator_UnknownNextNode(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	flow := chainFlow()
	flow.Nodes[1].NextNodeID = "missing"

	result := v.Validate(flow)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "missing")
}

func TestFlowValidator_DuplicateNodeID(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	flow := chainFlow()
	flow.Nodes[2].NodeID = "n1"
	flow.Nodes[1].NextNodeID = "n1"

	result := v.Validate(flow)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "duplicate")
}

func TestFlowValidator_SelfLink(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	flow := chainFlow()
	flow.Nodes[1].NextNodeID = "n2"

	result := v.Validate(flow)
	assert.False(t, result.Valid())
}

func TestFlowValidator_UnreachableNode(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	flow := chainFlow()
	// Short-circuit the chain so n2 is never visited.
	flow.Nodes[0].NextNodeID = "n3"

	result := v.Validate(flow)
	require.False(t, result.Valid())
	assert.Equal(t, "n2", result.Errors[0].NodeID)
}

func TestFlowValidator_FirstNodeMustBeInput(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	flow := chainFlow()
	flow.Nodes[0], flow.Nodes[1] = flow.Nodes[1], flow.Nodes[0]
	flow.Nodes[0].NextNodeID = "n1"
	flow.Nodes[1].NextNodeID = "n3"

	result := v.Validate(flow)
	assert.False(t, result.Valid())
}

func TestFlowValidator_AgentConfigRequired(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	flow := chainFlow()
	flow.Nodes[1].Agent = nil

	result := v.Validate(flow)
	assert.False(t, result.Valid())
}

func TestFlowValidator_WebhookRequiresURL(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	flow := chainFlow()
	flow.Nodes[2].Output.OutputType = schema.OutputTypeWebhook

	result := v.Validate(flow)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "webhook_url")
}

func TestFlowValidator_SelectRequiresOptions(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	flow := chainFlow()
	flow.Nodes[0].Input.Fields = append(flow.Nodes[0].Input.Fields, schema.InputField{
		Name: "mode",
		Type: schema.FieldTypeSelect,
	})

	result := v.Validate(flow)
	assert.False(t, result.Valid())
}

func TestFlowValidator_StructuralShortCircuit(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	flow := chainFlow()
	flow.ID = ""
	flow.Nodes[1].NextNodeID = "missing"

	result := v.Validate(flow)
	require.False(t, result.Valid())
	// Chain errors are not reported until the structure is sound.
	for _, e := range result.Errors {
		assert.NotContains(t, e.Message, "unknown node")
	}
}

func TestValidateInputSchema(t *testing.T) {
	v, err := NewFlowValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{
		"type": "object",
		"required": ["text"],
		"properties": {"text": {"type": "string"}}
	}`)

	assert.NoError(t, v.ValidateInputSchema(map[string]any{"text": "hi"}, inputSchema))
	assert.Error(t, v.ValidateInputSchema(map[string]any{}, inputSchema))
	assert.Error(t, v.ValidateInputSchema(map[string]any{"text": 42}, inputSchema))
	assert.NoError(t, v.ValidateInputSchema(map[string]any{"anything": true}, nil))
}
