package expressions

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Interpolator resolves {{nodeName.fieldPath}} tokens against accumulated
// execution data. The first path segment selects a node's output by name,
// falling back to the original execution input when no node of that name has
// produced data yet. Unresolved tokens are left verbatim in the rendered
// string so a template never hard-fails on a missing reference.
type Interpolator struct{}

// NewInterpolator creates a new Interpolator.
func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Render resolves every {{...}} token in template. data maps node names to
// their outputs; input is the original execution input used as fallback.
func (interp *Interpolator) Render(template string, data map[string]any, input map[string]any) string {
	if !HasTokens(template) {
		return template
	}

	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 2

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			// Unclosed token: keep the rest as-is.
			result.WriteString(template[i+idx:])
			break
		}
		end += start

		path := strings.TrimSpace(template[start:end])
		val, ok := interp.Lookup(path, data, input)
		if !ok {
			// Unresolved reference stays literal.
			result.WriteString(template[i+idx : end+2])
		} else {
			result.WriteString(stringify(val))
		}

		i = end + 2
	}

	return result.String()
}

// Lookup resolves a single dot-delimited path. The first segment names a
// node; remaining segments traverse into its output. A path whose head is
// not a known node name is resolved against the original input instead.
func (interp *Interpolator) Lookup(path string, data map[string]any, input map[string]any) (any, bool) {
	if path == "" {
		return nil, false
	}

	parts := strings.SplitN(path, ".", 2)
	head := parts[0]

	if root, ok := data[head]; ok {
		if len(parts) == 1 {
			return root, true
		}
		return traversePath(root, parts[1])
	}

	// Fallback: resolve the whole path against the original input.
	return traversePath(anyMap(input), path)
}

// traversePath navigates into nested maps using a dot-delimited path.
// Direct key lookup is tried first so keys containing dots still resolve.
func traversePath(root any, path string) (any, bool) {
	if m, ok := root.(map[string]any); ok {
		if val, exists := m[path]; exists {
			return val, true
		}
	}

	current := root
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, exists := m[seg]
		if !exists {
			return nil, false
		}
		current = val
	}
	return current, true
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// stringify converts a resolved value into its inline string representation.
// Scalars render bare; complex values are JSON-encoded inline.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// HasTokens checks whether a template contains any {{...}} references.
func HasTokens(template string) bool {
	return strings.Contains(template, "{{")
}
