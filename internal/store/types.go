package store

import (
	"encoding/json"
	"time"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// Flow is the persisted representation of a flow definition.
type Flow struct {
	ID         string      `json:"id"`
	Definition schema.Flow `json:"definition"`
	IsActive   bool        `json:"is_active"`
	Version    int         `json:"version"`
	Category   string      `json:"category,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// FlowExecution is one run of a flow, with full node history and final result.
type FlowExecution struct {
	ID             string                 `json:"id"`
	FlowID         string                 `json:"flow_id"`
	Status         schema.ExecutionStatus `json:"status"`
	Input          map[string]any         `json:"input,omitempty"`
	Result         json.RawMessage        `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
	CurrentNodeID  string                 `json:"current_node_id,omitempty"`
	NodeExecutions []NodeExecution        `json:"node_executions,omitempty"`
	Logs           []ExecutionLog         `json:"logs,omitempty"`
	TokensUsed     int64                  `json:"tokens_used"`
	Cost           float64                `json:"cost"`
	TriggeredBy    schema.TriggerSource   `json:"triggered_by"`
	TriggerData    json.RawMessage        `json:"trigger_data,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// NodeExecution records one node's run within an execution.
type NodeExecution struct {
	NodeID      string            `json:"node_id"`
	Name        string            `json:"name"`
	Type        schema.NodeType   `json:"type"`
	Status      schema.NodeStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	Attempts    int               `json:"attempts"`
	TokensUsed  int64             `json:"tokens_used,omitempty"`
	Cost        float64           `json:"cost,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// ExecutionLog is a timestamped log line captured during an execution.
type ExecutionLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	NodeID    string    `json:"node_id,omitempty"`
}

// ExecutionStats aggregates execution history for one flow.
type ExecutionStats struct {
	FlowID         string     `json:"flow_id"`
	Total          int64      `json:"total"`
	Completed      int64      `json:"completed"`
	Failed         int64      `json:"failed"`
	Cancelled      int64      `json:"cancelled"`
	Running        int64      `json:"running"`
	AvgDurationMs  float64    `json:"avg_duration_ms"`
	TotalTokens    int64      `json:"total_tokens"`
	TotalCost      float64    `json:"total_cost"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
}

// Schedule is a cron-triggered flow execution.
type Schedule struct {
	ID             string          `json:"id"`
	FlowID         string          `json:"flow_id"`
	CronExpression string          `json:"cron_expression"`
	Input          json.RawMessage `json:"input,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// FlowFilter specifies criteria for listing flows.
type FlowFilter struct {
	IsActive *bool  `json:"is_active,omitempty"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// FlowUpdate specifies mutable fields of a flow.
type FlowUpdate struct {
	Definition *schema.Flow `json:"definition,omitempty"`
	IsActive   *bool        `json:"is_active,omitempty"`
	Category   *string      `json:"category,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution. The engine writes
// a full snapshot at creation and at every terminal transition.
type ExecutionUpdate struct {
	Status         *schema.ExecutionStatus `json:"status,omitempty"`
	Result         json.RawMessage         `json:"result,omitempty"`
	Error          *string                 `json:"error,omitempty"`
	CurrentNodeID  *string                 `json:"current_node_id,omitempty"`
	NodeExecutions []NodeExecution         `json:"node_executions,omitempty"`
	Logs           []ExecutionLog          `json:"logs,omitempty"`
	TokensUsed     *int64                  `json:"tokens_used,omitempty"`
	Cost           *float64                `json:"cost,omitempty"`
	StartedAt      *time.Time              `json:"started_at,omitempty"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	FlowID      string                  `json:"flow_id,omitempty"`
	Status      *schema.ExecutionStatus `json:"status,omitempty"`
	TriggeredBy schema.TriggerSource    `json:"triggered_by,omitempty"`
	Since       *time.Time              `json:"since,omitempty"`
	Limit       int                     `json:"limit,omitempty"`
	Offset      int                     `json:"offset,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	CronExpression *string         `json:"cron_expression,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Enabled        *bool           `json:"enabled,omitempty"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	FlowID  string `json:"flow_id,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
