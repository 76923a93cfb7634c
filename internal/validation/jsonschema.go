package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/flowline-dev/flowline/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// flowSchemaJSON is the JSON Schema for Flow structural validation.
// Embedded as a constant to avoid filesystem dependencies.
const flowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowline.dev/schemas/flow.json",
  "type": "object",
  "required": ["id", "name", "nodes"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "input_schema": {},
    "output_schema": {},
    "is_active": { "type": "boolean" },
    "version": { "type": "integer", "minimum": 0 },
    "category": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["node_id", "name", "type"],
      "properties": {
        "node_id": { "type": "string", "minLength": 1 },
        "name": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["input", "agent", "output"]
        },
        "position": {
          "type": "object",
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          },
          "additionalProperties": false
        },
        "next_node_id": { "type": "string" },
        "input": { "$ref": "#/$defs/input_config" },
        "agent": { "$ref": "#/$defs/agent_config" },
        "output": { "$ref": "#/$defs/output_config" }
      },
      "additionalProperties": false
    },
    "input_config": {
      "type": "object",
      "required": ["fields"],
      "properties": {
        "fields": {
          "type": "array",
          "items": { "$ref": "#/$defs/input_field" }
        }
      },
      "additionalProperties": false
    },
    "input_field": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["text", "textarea", "number", "url", "email", "file", "select", "multiselect", "checkbox", "date", "datetime"]
        },
        "required": { "type": "boolean" },
        "pattern": { "type": "string" },
        "min": { "type": "number" },
        "max": { "type": "number" },
        "default_value": {},
        "options": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    },
    "agent_config": {
      "type": "object",
      "required": ["agent_id", "prompt_template"],
      "properties": {
        "agent_id": { "type": "string", "minLength": 1 },
        "prompt_template": { "type": "string", "minLength": 1 },
        "skills": {
          "type": "array",
          "items": { "type": "string" }
        },
        "model_override": { "type": "string" },
        "max_tokens": { "type": "integer", "minimum": 0 },
        "timeout_ms": { "type": "integer", "minimum": 0 },
        "retry_on_error": { "type": "boolean" },
        "max_retries": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "output_config": {
      "type": "object",
      "required": ["output_type"],
      "properties": {
        "output_type": {
          "type": "string",
          "enum": ["response", "file", "database", "webhook", "email"]
        },
        "format": {
          "type": "string",
          "enum": ["json", "markdown", "text", "html", "csv", "zip"]
        },
        "save_to_file": { "type": "boolean" },
        "file_path": { "type": "string" },
        "file_name": { "type": "string" },
        "include_metadata": { "type": "boolean" },
        "include_timestamp": { "type": "boolean" },
        "transform_template": { "type": "string" },
        "webhook_url": { "type": "string" },
        "webhook_headers": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator performs structural validation using JSON Schema
// Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	flowSchema *jsonschema.Schema

	// mu guards the cache for dynamic input-schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the flow schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(flowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal flow schema: %w", err)
	}
	if err := c.AddResource("https://flowline.dev/schemas/flow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add flow schema resource: %w", err)
	}

	compiled, err := c.Compile("https://flowline.dev/schemas/flow.json")
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}

	return &JSONSchemaValidator{
		flowSchema: compiled,
		cache:      make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateFlow validates a Flow against the embedded flow JSON Schema.
func (v *JSONSchemaValidator) ValidateFlow(flow *schema.Flow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	doc, err := toJSONValue(flow)
	if err != nil {
		result.AddError("failed to serialize flow: " + err.Error())
		return result
	}

	if err := v.flowSchema.Validate(doc); err != nil {
		for _, violation := range collectViolations(err) {
			result.AddError(violation)
		}
	}

	return result
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The compiled schema is cached for subsequent calls with the same bytes.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}
	if input == nil {
		input = map[string]any{}
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		violations := collectViolations(err)
		msg := "input validation failed"
		if len(violations) == 1 {
			msg = violations[0]
		}
		return schema.NewError(schema.ErrCodeValidation, msg).
			WithDetails(map[string]any{"violations": violations})
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid compiler resource collisions.
	url := fmt.Sprintf("flowline://input-schema/%d", len(v.cache))

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding so numeric values
// become json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}

	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
