package schema

import "time"

// ExecutionStatus represents the lifecycle state of a flow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// NodeStatus represents the lifecycle state of a single node execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the node status admits no further transitions.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

// Update event types, in the order a consumer may observe them.
const (
	UpdateExecutionStarted   = "execution_started"
	UpdateNodeStarted        = "node_started"
	UpdateNodeCompleted      = "node_completed"
	UpdateNodeFailed         = "node_failed"
	UpdateExecutionCompleted = "execution_completed"
	UpdateExecutionFailed    = "execution_failed"
	UpdateExecutionCancelled = "execution_cancelled"
	UpdateLog                = "log"
)

// FlowExecutionUpdate is one entry in an execution's ordered update stream.
// For a single execution, updates are emitted in the exact order operations
// occur; the stream is never reordered and never drops entries.
type FlowExecutionUpdate struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id"`
	Timestamp   time.Time      `json:"timestamp"`
	NodeID      string         `json:"node_id,omitempty"`
	NodeType    NodeType       `json:"node_type,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}
