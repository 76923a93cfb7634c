package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/pkg/schema"
)

func TestExecutionTransitions(t *testing.T) {
	tests := []struct {
		from, to schema.ExecutionStatus
		valid    bool
	}{
		{schema.ExecutionStatusPending, schema.ExecutionStatusRunning, true},
		{schema.ExecutionStatusPending, schema.ExecutionStatusCancelled, true},
		{schema.ExecutionStatusPending, schema.ExecutionStatusCompleted, false},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusCompleted, true},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusFailed, true},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled, true},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusPending, false},
		{schema.ExecutionStatusCompleted, schema.ExecutionStatusRunning, false},
		{schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled, false},
		{schema.ExecutionStatusCancelled, schema.ExecutionStatusRunning, false},
	}

	for _, tt := range tests {
		err := TransitionExecution("exec-1", tt.from, tt.to)
		if tt.valid {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
		} else {
			require.Error(t, err, "%s -> %s", tt.from, tt.to)
			flowErr, ok := err.(*schema.FlowError)
			require.True(t, ok)
			assert.Equal(t, schema.ErrCodeInvalidTransition, flowErr.Code)
		}
	}
}

func TestNodeTransitions(t *testing.T) {
	tests := []struct {
		from, to schema.NodeStatus
		valid    bool
	}{
		{schema.NodeStatusPending, schema.NodeStatusRunning, true},
		{schema.NodeStatusPending, schema.NodeStatusSkipped, true},
		{schema.NodeStatusPending, schema.NodeStatusCompleted, false},
		{schema.NodeStatusRunning, schema.NodeStatusCompleted, true},
		{schema.NodeStatusRunning, schema.NodeStatusFailed, true},
		{schema.NodeStatusRunning, schema.NodeStatusSkipped, false},
		{schema.NodeStatusCompleted, schema.NodeStatusRunning, false},
		{schema.NodeStatusFailed, schema.NodeStatusRunning, false},
		{schema.NodeStatusSkipped, schema.NodeStatusRunning, false},
	}

	for _, tt := range tests {
		err := TransitionNode("exec-1", "n1", tt.from, tt.to)
		if tt.valid {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
		} else {
			assert.Error(t, err, "%s -> %s", tt.from, tt.to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, schema.ExecutionStatusCompleted.Terminal())
	assert.True(t, schema.ExecutionStatusFailed.Terminal())
	assert.True(t, schema.ExecutionStatusCancelled.Terminal())
	assert.False(t, schema.ExecutionStatusRunning.Terminal())
	assert.False(t, schema.ExecutionStatusPending.Terminal())

	assert.True(t, schema.NodeStatusCompleted.Terminal())
	assert.True(t, schema.NodeStatusFailed.Terminal())
	assert.True(t, schema.NodeStatusSkipped.Terminal())
	assert.False(t, schema.NodeStatusRunning.Terminal())
}
