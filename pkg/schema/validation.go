package schema

import "fmt"

// ValidationError is a single validation problem, optionally tied to a node
// or an input field.
type ValidationError struct {
	NodeID  string `json:"node_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (v ValidationError) String() string {
	switch {
	case v.NodeID != "" && v.Field != "":
		return fmt.Sprintf("node %s, field %s: %s", v.NodeID, v.Field, v.Message)
	case v.NodeID != "":
		return fmt.Sprintf("node %s: %s", v.NodeID, v.Message)
	case v.Field != "":
		return fmt.Sprintf("field %s: %s", v.Field, v.Message)
	default:
		return v.Message
	}
}

// ValidationResult aggregates all problems found by a validation pass.
// Validators collect every problem instead of failing fast so a single
// request can report everything wrong at once.
type ValidationResult struct {
	Errors []ValidationError `json:"errors,omitempty"`
}

// Valid returns true if there are no errors.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends a flow-level error.
func (r *ValidationResult) AddError(message string) {
	r.Errors = append(r.Errors, ValidationError{Message: message})
}

// AddNodeError appends an error attributed to a node.
func (r *ValidationResult) AddNodeError(nodeID, message string) {
	r.Errors = append(r.Errors, ValidationError{NodeID: nodeID, Message: message})
}

// AddFieldError appends an error attributed to an input field.
func (r *ValidationResult) AddFieldError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
}

// ToError converts the result to a FlowError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].String()
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count": len(r.Errors),
			"errors":      r.Errors,
		})
}
