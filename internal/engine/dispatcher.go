package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// dispatch walks the node chain sequentially for one execution. Cancellation
// is honored only at the safe point between nodes; a node already mid-flight
// runs to completion or its own timeout first.
func (e *Engine) dispatch(ctx context.Context, run *executionRun, flow *schema.Flow, exec *store.FlowExecution) {
	ec := run.ec

	defer func() {
		run.final = exec
		close(run.done)
		e.mu.Lock()
		delete(e.running, exec.ID)
		e.mu.Unlock()
	}()

	nodes := make(map[string]*schema.FlowNode, len(flow.Nodes))
	for i := range flow.Nodes {
		nodes[flow.Nodes[i].NodeID] = &flow.Nodes[i]
	}

	// Node records are pre-created pending, in chain order.
	records := make([]store.NodeExecution, 0, len(flow.Nodes))
	recordIdx := make(map[string]int, len(flow.Nodes))
	for node := nodes[flow.Nodes[0].NodeID]; node != nil; node = nodes[node.NextNodeID] {
		recordIdx[node.NodeID] = len(records)
		records = append(records, store.NodeExecution{
			NodeID: node.NodeID,
			Name:   node.Name,
			Type:   node.Type,
			Status: schema.NodeStatusPending,
		})
	}
	exec.NodeExecutions = records

	ec.Emit(schema.FlowExecutionUpdate{
		Type: schema.UpdateExecutionStarted,
		Data: map[string]any{"flow_id": flow.ID, "flow_name": flow.Name},
	})

	var lastCompleted *store.NodeExecution
	current := &flow.Nodes[0]
	for {
		// Safe point: cancellation is observed before dispatching the next node.
		if ec.IsCancelled() {
			e.finishCancelled(ctx, ec, exec, records)
			return
		}

		rec := &records[recordIdx[current.NodeID]]
		started := time.Now().UTC()
		e.setNodeStatus(exec, rec, schema.NodeStatusRunning)
		rec.StartedAt = &started
		exec.CurrentNodeID = current.NodeID

		ec.Emit(schema.FlowExecutionUpdate{
			Type:     schema.UpdateNodeStarted,
			NodeID:   current.NodeID,
			NodeType: current.Type,
			Data:     map[string]any{"name": current.Name},
		})

		handler, ok := e.handlers[current.Type]
		if !ok {
			err := schema.NewErrorf(schema.ErrCodeNodeFailed, "no handler for node type %q", current.Type).
				WithNode(current.NodeID)
			e.failNode(ctx, ec, exec, rec, records, err, 0)
			return
		}

		result, err := handler.Execute(ctx, ec, current)

		completed := time.Now().UTC()
		rec.CompletedAt = &completed
		rec.DurationMs = completed.Sub(started).Milliseconds()
		if result != nil {
			rec.Attempts = result.Attempts
			rec.TokensUsed = result.TokensUsed
			rec.Cost = result.Cost
		}

		if err != nil {
			e.failNode(ctx, ec, exec, rec, records, err, rec.Attempts)
			return
		}

		e.setNodeStatus(exec, rec, schema.NodeStatusCompleted)
		if out, merr := json.Marshal(result.Data); merr == nil {
			rec.Output = out
		}
		ec.SetNodeData(current.Name, result.Data)

		ec.Emit(schema.FlowExecutionUpdate{
			Type:     schema.UpdateNodeCompleted,
			NodeID:   current.NodeID,
			NodeType: current.Type,
			Data: map[string]any{
				"name":     current.Name,
				"data":     result.Data,
				"attempts": rec.Attempts,
			},
		})

		lastCompleted = rec
		e.persistProgress(ctx, ec, exec, records)

		if current.Terminal() {
			break
		}
		current = nodes[current.NextNodeID]
	}

	e.finishCompleted(ctx, ec, exec, records, lastCompleted)
}

// failNode marks the failing node and the whole execution as failed.
func (e *Engine) failNode(ctx context.Context, ec *ExecutionContext, exec *store.FlowExecution, rec *store.NodeExecution, records []store.NodeExecution, err error, attempts int) {
	e.setNodeStatus(exec, rec, schema.NodeStatusFailed)
	rec.Error = err.Error()

	ec.Emit(schema.FlowExecutionUpdate{
		Type:     schema.UpdateNodeFailed,
		NodeID:   rec.NodeID,
		NodeType: rec.Type,
		Data: map[string]any{
			"name":     rec.Name,
			"error":    err.Error(),
			"attempts": attempts,
		},
	})

	skipRemaining(records)
	e.finishTerminal(ctx, ec, exec, records, schema.ExecutionStatusFailed, err.Error(), nil)

	ec.Emit(schema.FlowExecutionUpdate{
		Type:   schema.UpdateExecutionFailed,
		NodeID: rec.NodeID,
		Data: map[string]any{
			"error":    err.Error(),
			"node_id":  rec.NodeID,
			"attempts": attempts,
		},
	})
}

// finishCancelled ends the execution as cancelled without starting a new
// node. Already-completed node records are never rewritten.
func (e *Engine) finishCancelled(ctx context.Context, ec *ExecutionContext, exec *store.FlowExecution, records []store.NodeExecution) {
	skipRemaining(records)
	e.finishTerminal(ctx, ec, exec, records, schema.ExecutionStatusCancelled, "", nil)

	ec.Emit(schema.FlowExecutionUpdate{
		Type: schema.UpdateExecutionCancelled,
		Data: map[string]any{"cancelled_at": time.Now().UTC().Format(time.RFC3339)},
	})
}

// finishCompleted assembles the final output from the last node's result.
func (e *Engine) finishCompleted(ctx context.Context, ec *ExecutionContext, exec *store.FlowExecution, records []store.NodeExecution, last *store.NodeExecution) {
	var result json.RawMessage
	if last != nil && len(last.Output) > 0 {
		result = last.Output
	}
	e.finishTerminal(ctx, ec, exec, records, schema.ExecutionStatusCompleted, "", result)

	var resultData any
	if len(result) > 0 {
		_ = json.Unmarshal(result, &resultData)
	}
	ec.Emit(schema.FlowExecutionUpdate{
		Type: schema.UpdateExecutionCompleted,
		Data: map[string]any{"result": resultData},
	})
}

// finishTerminal stamps the terminal state on the in-memory record and
// persists the final snapshot best-effort.
func (e *Engine) finishTerminal(ctx context.Context, ec *ExecutionContext, exec *store.FlowExecution, records []store.NodeExecution, status schema.ExecutionStatus, errMsg string, result json.RawMessage) {
	// Terminal once set: a second terminal transition is rejected and no
	// further state is written.
	if err := TransitionExecution(exec.ID, exec.Status, status); err != nil {
		e.logger.Warn("execution transition rejected",
			"execution_id", exec.ID, "from", string(exec.Status), "to", string(status))
		return
	}

	now := time.Now().UTC()
	tokens, cost := ec.Usage()

	exec.Status = status
	exec.Error = errMsg
	exec.Result = result
	exec.NodeExecutions = records
	exec.Logs = ec.Logs()
	exec.TokensUsed = tokens
	exec.Cost = cost
	exec.CompletedAt = &now
	exec.UpdatedAt = now

	update := store.ExecutionUpdate{
		Status:         &status,
		NodeExecutions: records,
		Logs:           exec.Logs,
		TokensUsed:     &tokens,
		Cost:           &cost,
		CompletedAt:    &now,
	}
	if errMsg != "" {
		update.Error = &errMsg
	}
	if len(result) > 0 {
		update.Result = result
	}
	if err := e.store.UpdateExecution(ctx, exec.ID, update); err != nil {
		e.logger.Warn("persist terminal snapshot failed",
			"execution_id", exec.ID, "status", string(status), "error", err)
	}
}

// persistProgress writes an intermediate snapshot after each completed node.
// Failures are logged and the execution continues in-memory.
func (e *Engine) persistProgress(ctx context.Context, ec *ExecutionContext, exec *store.FlowExecution, records []store.NodeExecution) {
	tokens, cost := ec.Usage()
	currentNode := exec.CurrentNodeID
	if err := e.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{
		CurrentNodeID:  &currentNode,
		NodeExecutions: records,
		Logs:           ec.Logs(),
		TokensUsed:     &tokens,
		Cost:           &cost,
	}); err != nil {
		e.logger.Warn("persist progress snapshot failed",
			"execution_id", exec.ID, "node_id", currentNode, "error", err)
	}
}

// setNodeStatus applies a node state transition, rejecting invalid ones.
func (e *Engine) setNodeStatus(exec *store.FlowExecution, rec *store.NodeExecution, to schema.NodeStatus) {
	if err := TransitionNode(exec.ID, rec.NodeID, rec.Status, to); err != nil {
		e.logger.Warn("node transition rejected",
			"execution_id", exec.ID, "node_id", rec.NodeID,
			"from", string(rec.Status), "to", string(to))
		return
	}
	rec.Status = to
}

// skipRemaining marks nodes that never started as skipped.
func skipRemaining(records []store.NodeExecution) {
	for i := range records {
		if records[i].Status == schema.NodeStatusPending {
			records[i].Status = schema.NodeStatusSkipped
		}
	}
}
