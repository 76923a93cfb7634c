package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpolator_Render(t *testing.T) {
	interp := NewInterpolator()
	data := map[string]any{
		"start": map[string]any{
			"text":  "hello world",
			"count": float64(3),
		},
		"summarize": map[string]any{
			"result": map[string]any{"summary": "short"},
		},
	}
	input := map[string]any{"topic": "news"}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"simple field", "Summarize: {{start.text}}", "Summarize: hello world"},
		{"number field", "n={{start.count}}", "n=3"},
		{"nested path", "{{summarize.result.summary}}", "short"},
		{"whole node output", "{{summarize}}", `{"result":{"summary":"short"}}`},
		{"input fallback", "topic: {{topic}}", "topic: news"},
		{"unresolved stays literal", "x={{missing.path}}", "x={{missing.path}}"},
		{"no tokens", "plain text", "plain text"},
		{"unclosed token kept", "a {{start.text", "a {{start.text"},
		{"multiple tokens", "{{start.text}}/{{topic}}", "hello world/news"},
		{"whitespace trimmed", "{{ start.text }}", "hello world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, interp.Render(tt.template, data, input))
		})
	}
}

func TestInterpolator_Lookup(t *testing.T) {
	interp := NewInterpolator()
	data := map[string]any{
		"fetch": map[string]any{"body": map[string]any{"id": float64(7)}},
		"dotted": map[string]any{
			"a.b": "direct",
		},
	}

	val, ok := interp.Lookup("fetch.body.id", data, nil)
	assert.True(t, ok)
	assert.Equal(t, float64(7), val)

	// Direct key lookup wins over dot traversal.
	val, ok = interp.Lookup("dotted.a.b", data, nil)
	assert.True(t, ok)
	assert.Equal(t, "direct", val)

	_, ok = interp.Lookup("fetch.body.missing", data, nil)
	assert.False(t, ok)

	_, ok = interp.Lookup("", data, nil)
	assert.False(t, ok)
}

func TestHasTokens(t *testing.T) {
	assert.True(t, HasTokens("a {{b}}"))
	assert.False(t, HasTokens("a b"))
}
