package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/pkg/schema"
)

func TestTransformer_EmptyTemplateReturnsData(t *testing.T) {
	tr := NewTransformer()
	data := map[string]any{"a": 1}

	out, err := tr.Apply(context.Background(), "", data, nil)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestTransformer_JQDialect(t *testing.T) {
	tr := NewTransformer()
	data := map[string]any{
		"summarize": map[string]any{"text": "hi", "tokens": 12},
	}

	out, err := tr.Apply(context.Background(), "jq: .summarize.text", data, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestTransformer_JQMultipleOutputs(t *testing.T) {
	tr := NewTransformer()
	data := map[string]any{
		"items": []any{float64(1), float64(2), float64(3)},
	}

	out, err := tr.Apply(context.Background(), "jq: .items[]", data, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, out)
}

func TestTransformer_ExprDialect(t *testing.T) {
	tr := NewTransformer()
	data := map[string]any{
		"summarize": map[string]any{"tokens": 12},
	}

	out, err := tr.Apply(context.Background(), "expr: summarize.tokens * 2", data, nil)
	require.NoError(t, err)
	assert.Equal(t, 24, out)
}

func TestTransformer_InterpolationDefault(t *testing.T) {
	tr := NewTransformer()
	data := map[string]any{
		"summarize": map[string]any{"text": "hi"},
	}

	out, err := tr.Apply(context.Background(), "Result: {{summarize.text}}", data, nil)
	require.NoError(t, err)
	assert.Equal(t, "Result: hi", out)
}

func TestTransformer_JQParseError(t *testing.T) {
	tr := NewTransformer()

	_, err := tr.Apply(context.Background(), "jq: .[unclosed", map[string]any{}, nil)
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestGoJQEngine_CompileCache(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := e.Evaluate(ctx, ".a + 1", map[string]any{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, float64(2), out)
	}
	assert.Len(t, e.cache, 1)
}

func TestExprEngine_UndefinedVariables(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "missing ?? 'fallback'", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}
