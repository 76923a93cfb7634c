package validation

import "github.com/flowline-dev/flowline/pkg/schema"

// FlowValidator runs the three-stage validation pipeline over a flow:
// 1. Structural (JSON Schema)
// 2. Chain (unique ids, next references, single fully-connected chain)
// 3. Node config (type-specific constraints)
// A flow that fails validation never produces an execution record.
type FlowValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewFlowValidator creates a FlowValidator.
func NewFlowValidator() (*FlowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &FlowValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: chain and config stages are skipped.
func (fv *FlowValidator) Validate(flow *schema.Flow) *schema.ValidationResult {
	if flow == nil {
		r := &schema.ValidationResult{}
		r.AddError("flow is nil")
		return r
	}

	result := fv.jsonSchema.ValidateFlow(flow)
	if !result.Valid() {
		return result
	}

	result.Merge(validateChain(flow))
	if result.Valid() {
		result.Merge(validateNodeConfigs(flow))
	}

	return result
}

// ValidateFlow satisfies the engine's validator contract.
func (fv *FlowValidator) ValidateFlow(flow *schema.Flow) error {
	return fv.Validate(flow).ToError()
}

// ValidateInputSchema checks input against a flow's optional JSON Schema.
func (fv *FlowValidator) ValidateInputSchema(input map[string]any, inputSchema []byte) error {
	return fv.jsonSchema.ValidateInput(input, inputSchema)
}
