package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flowline-dev/flowline/internal/engine"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// handleRun starts an execution of a registered flow.
func (s *FlowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID, err := req.RequireString("flow_id")
	if err != nil {
		return mcp.NewToolResultError("flow_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)
	wait := req.GetBool("wait", false)

	resp, startErr := s.engine.Start(ctx, engine.StartFlowExecutionRequest{
		FlowID:            flowID,
		Input:             input,
		TriggeredBy:       schema.TriggerManual,
		WaitForCompletion: wait,
	})
	if startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start flow failed: %v", startErr)), nil
	}

	// Capture session mapping for execution notifications.
	s.captureSession(ctx, resp.ExecutionID)

	return marshalResult(resp)
}

// handleCancel requests cooperative cancellation of a running execution.
func (s *FlowServer) handleCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	cancelled := s.engine.Cancel(executionID)
	return marshalResult(map[string]any{
		"execution_id": executionID,
		"cancelled":    cancelled,
	})
}

// handleStatus returns the current snapshot of an execution.
func (s *FlowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, statusErr := s.engine.Status(ctx, executionID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	return marshalResult(exec)
}

// handleQuery lists flows, executions, or schedules based on filters.
func (s *FlowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "flows":
		return s.queryFlows(ctx, filter)
	case "executions":
		return s.queryExecutions(ctx, filter)
	case "schedules":
		return s.querySchedules(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *FlowServer) queryFlows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ff := store.FlowFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if active, ok := filter["active"].(bool); ok {
		ff.IsActive = &active
	}
	if category, ok := filter["category"].(string); ok {
		ff.Category = category
	}

	flows, err := s.store.ListFlows(ctx, ff)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"flows": flows})
}

func (s *FlowServer) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	limit := extractInt(filter, "limit", 50)
	ef := store.ExecutionFilter{Limit: limit}
	if flowID, ok := filter["flow_id"].(string); ok {
		ef.FlowID = flowID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		es := schema.ExecutionStatus(status)
		ef.Status = &es
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	// No filters means "what ran lately", which the store answers directly.
	if ef.FlowID == "" && ef.Status == nil && ef.Since == nil {
		execs, err := s.store.GetRecentExecutions(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"executions": execs})
	}

	execs, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": execs})
}

func (s *FlowServer) querySchedules(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	sf := store.ScheduleFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if flowID, ok := filter["flow_id"].(string); ok {
		sf.FlowID = flowID
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		sf.Enabled = &enabled
	}

	schedules, err := s.store.ListSchedules(ctx, sf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"schedules": schedules})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the execution ID to the MCP session that started it.
func (s *FlowServer) captureSession(ctx context.Context, executionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(executionID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
