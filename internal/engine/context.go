package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// EmitFunc delivers one execution update to the event stream.
type EmitFunc func(update schema.FlowExecutionUpdate)

// ExecutionContext carries the mutable state of one in-flight execution.
// Node handlers read accumulated data and report usage through it; the
// cancellation token is part of the handler contract rather than a shared
// boolean. Safe for concurrent use.
type ExecutionContext struct {
	ExecutionID string
	FlowID      string
	Input       map[string]any
	StartedAt   time.Time

	cancelled atomic.Bool
	emit      EmitFunc

	mu       sync.Mutex
	data     map[string]any // keyed by node name
	lastName string
	logs     []store.ExecutionLog
	tokens   int64
	cost     float64
}

// NewExecutionContext creates a context for one execution with the
// cancellation flag cleared and the emission callback wired in.
func NewExecutionContext(executionID, flowID string, input map[string]any, emit EmitFunc) *ExecutionContext {
	if emit == nil {
		emit = func(schema.FlowExecutionUpdate) {}
	}
	return &ExecutionContext{
		ExecutionID: executionID,
		FlowID:      flowID,
		Input:       input,
		StartedAt:   time.Now().UTC(),
		emit:        emit,
		data:        make(map[string]any),
	}
}

// Cancel sets the cooperative cancellation flag. The dispatcher observes it
// only at the safe point between nodes. Idempotent.
func (ec *ExecutionContext) Cancel() {
	ec.cancelled.Store(true)
}

// IsCancelled reports whether cancellation has been requested.
func (ec *ExecutionContext) IsCancelled() bool {
	return ec.cancelled.Load()
}

// SetNodeData merges a completed node's output into the accumulated data,
// keyed by the node's name so later nodes can reference it.
func (ec *ExecutionContext) SetNodeData(name string, data map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.data[name] = data
	ec.lastName = name
}

// Data returns a shallow copy of the accumulated per-node data.
func (ec *ExecutionContext) Data() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]any, len(ec.data))
	for k, v := range ec.data {
		out[k] = v
	}
	return out
}

// LastNodeData returns the output of the most recently completed node.
func (ec *ExecutionContext) LastNodeData() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.lastName == "" {
		return nil
	}
	if m, ok := ec.data[ec.lastName].(map[string]any); ok {
		return m
	}
	return nil
}

// AddUsage adds reported token/cost usage to the execution totals.
// Totals only ever grow; partial usage from failed attempts counts too.
func (ec *ExecutionContext) AddUsage(tokens int64, cost float64) {
	if tokens <= 0 && cost <= 0 {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if tokens > 0 {
		ec.tokens += tokens
	}
	if cost > 0 {
		ec.cost += cost
	}
}

// Usage returns the accumulated token and cost totals.
func (ec *ExecutionContext) Usage() (int64, float64) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.tokens, ec.cost
}

// Log records a log line on the execution and emits it as a log update.
func (ec *ExecutionContext) Log(level, message, nodeID string) {
	entry := store.ExecutionLog{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		NodeID:    nodeID,
	}
	ec.mu.Lock()
	ec.logs = append(ec.logs, entry)
	ec.mu.Unlock()

	ec.emit(schema.FlowExecutionUpdate{
		Type:        schema.UpdateLog,
		ExecutionID: ec.ExecutionID,
		Timestamp:   entry.Timestamp,
		NodeID:      nodeID,
		Data: map[string]any{
			"level":   level,
			"message": message,
		},
	})
}

// Logs returns a copy of the captured log lines.
func (ec *ExecutionContext) Logs() []store.ExecutionLog {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]store.ExecutionLog, len(ec.logs))
	copy(out, ec.logs)
	return out
}

// Emit delivers an execution update through the wired callback.
func (ec *ExecutionContext) Emit(update schema.FlowExecutionUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}
	update.ExecutionID = ec.ExecutionID
	ec.emit(update)
}
