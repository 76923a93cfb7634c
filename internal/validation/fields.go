package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// ResolveInput validates raw input against an input node's field declarations
// and returns the coerced initial data map. All field errors are collected and
// returned together so a single request reports every problem at once.
func ResolveInput(cfg *schema.InputNodeConfig, input map[string]any) (map[string]any, *schema.ValidationResult) {
	result := &schema.ValidationResult{}
	data := make(map[string]any, len(cfg.Fields))

	for _, field := range cfg.Fields {
		raw, present := input[field.Name]
		if !present || isEmptyValue(raw) {
			if field.DefaultValue != nil {
				raw = field.DefaultValue
			} else if field.Required {
				result.AddFieldError(field.Name, "required field is missing")
				continue
			} else {
				continue
			}
		}

		coerced, err := coerceField(field, raw)
		if err != nil {
			result.AddFieldError(field.Name, err.Error())
			continue
		}
		data[field.Name] = coerced
	}

	if !result.Valid() {
		return nil, result
	}
	return data, result
}

// isEmptyValue reports whether a supplied value counts as absent for the
// purposes of required-field checks.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	default:
		return false
	}
}

// coerceField converts a raw input value to the field's declared type and
// checks its constraints.
func coerceField(field schema.InputField, raw any) (any, error) {
	switch field.Type {
	case schema.FieldTypeText, schema.FieldTypeTextarea, schema.FieldTypeFile:
		return coerceText(field, raw)
	case schema.FieldTypeURL:
		return coerceURL(field, raw)
	case schema.FieldTypeEmail:
		return coerceEmail(field, raw)
	case schema.FieldTypeNumber:
		return coerceNumber(field, raw)
	case schema.FieldTypeSelect:
		return coerceSelect(field, raw)
	case schema.FieldTypeMultiselect:
		return coerceMultiselect(field, raw)
	case schema.FieldTypeCheckbox:
		return coerceCheckbox(raw)
	case schema.FieldTypeDate:
		return coerceDate(raw, "2006-01-02")
	case schema.FieldTypeDatetime:
		return coerceDatetime(raw)
	default:
		return nil, fmt.Errorf("unknown field type %q", field.Type)
	}
}

func asString(raw any) (string, bool) {
	s, ok := raw.(string)
	return s, ok
}

func coerceText(field schema.InputField, raw any) (string, error) {
	s, ok := asString(raw)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", raw)
	}
	if field.Pattern != "" {
		re, err := regexp.Compile(field.Pattern)
		if err != nil {
			return "", fmt.Errorf("invalid pattern %q: %v", field.Pattern, err)
		}
		if !re.MatchString(s) {
			return "", fmt.Errorf("value does not match pattern %q", field.Pattern)
		}
	}
	if field.Min != nil && float64(len(s)) < *field.Min {
		return "", fmt.Errorf("must be at least %d characters", int(*field.Min))
	}
	if field.Max != nil && float64(len(s)) > *field.Max {
		return "", fmt.Errorf("must be at most %d characters", int(*field.Max))
	}
	return s, nil
}

func coerceURL(field schema.InputField, raw any) (string, error) {
	s, err := coerceText(field, raw)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid URL %q", s)
	}
	return s, nil
}

func coerceEmail(field schema.InputField, raw any) (string, error) {
	s, err := coerceText(field, raw)
	if err != nil {
		return "", err
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return "", fmt.Errorf("invalid email address %q", s)
	}
	return s, nil
}

func coerceNumber(field schema.InputField, raw any) (float64, error) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", v)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
	if field.Min != nil && n < *field.Min {
		return 0, fmt.Errorf("must be >= %v", *field.Min)
	}
	if field.Max != nil && n > *field.Max {
		return 0, fmt.Errorf("must be <= %v", *field.Max)
	}
	return n, nil
}

func coerceSelect(field schema.InputField, raw any) (string, error) {
	s, ok := asString(raw)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", raw)
	}
	for _, opt := range field.Options {
		if s == opt {
			return s, nil
		}
	}
	return "", fmt.Errorf("value %q is not one of the allowed options", s)
}

func coerceMultiselect(field schema.InputField, raw any) ([]string, error) {
	var values []string
	switch v := raw.(type) {
	case []string:
		values = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list, got element of type %T", item)
			}
			values = append(values, s)
		}
	case string:
		values = []string{v}
	default:
		return nil, fmt.Errorf("expected string list, got %T", raw)
	}

	allowed := make(map[string]bool, len(field.Options))
	for _, opt := range field.Options {
		allowed[opt] = true
	}
	for _, s := range values {
		if !allowed[s] {
			return nil, fmt.Errorf("value %q is not one of the allowed options", s)
		}
	}
	return values, nil
}

func coerceCheckbox(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("expected boolean, got %q", v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", raw)
	}
}

func coerceDate(raw any, layout string) (string, error) {
	s, ok := asString(raw)
	if !ok {
		return "", fmt.Errorf("expected date string, got %T", raw)
	}
	if _, err := time.Parse(layout, s); err != nil {
		return "", fmt.Errorf("invalid date %q, expected %s", s, layout)
	}
	return s, nil
}

func coerceDatetime(raw any) (string, error) {
	s, ok := asString(raw)
	if !ok {
		return "", fmt.Errorf("expected datetime string, got %T", raw)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if _, err := time.Parse(layout, s); err == nil {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid datetime %q", s)
}
