package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flowline-dev/flowline/internal/engine"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// handleCreateFlow registers a flow definition.
func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Definition schema.Flow `json:"definition"`
		IsActive   *bool       `json:"is_active"`
		Category   string      `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Definition.Name == "" {
		writeError(w, http.StatusBadRequest, "definition.name is required")
		return
	}

	// The store row id is canonical. The definition carries the same id so
	// the stored document validates and starts as-is.
	id := uuid.New().String()
	body.Definition.ID = id

	now := time.Now().UTC()
	flow := &store.Flow{
		ID:         id,
		Definition: body.Definition,
		IsActive:   body.IsActive == nil || *body.IsActive,
		Version:    1,
		Category:   body.Category,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.deps.Store.CreateFlow(ctx, flow); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create flow: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": flow.ID})
}

// handleListFlows lists registered flows.
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	filter := store.FlowFilter{
		Category: r.URL.Query().Get("category"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active := v == "true"
		filter.IsActive = &active
	}

	flows, err := s.deps.Store.ListFlows(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list flows: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": flows})
}

// handleGetFlow fetches one flow by ID.
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.deps.Store.GetFlow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "flow")
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// handleDeleteFlow removes a flow.
func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteFlow(r.Context(), id); err != nil {
		writeStoreError(w, err, "flow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

// handleFlowStats reports aggregate execution stats for a flow.
func (s *Server) handleFlowStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.GetStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "flow")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleStartFlow starts an execution of the flow.
func (s *Server) handleStartFlow(w http.ResponseWriter, r *http.Request) {
	flowID := r.PathValue("id")

	var body struct {
		Input             map[string]any  `json:"input"`
		TriggerData       json.RawMessage `json:"trigger_data"`
		WaitForCompletion bool            `json:"wait_for_completion"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}

	resp, err := s.deps.Engine.Start(r.Context(), engine.StartFlowExecutionRequest{
		FlowID:            flowID,
		Input:             body.Input,
		TriggeredBy:       schema.TriggerAPI,
		TriggerData:       body.TriggerData,
		WaitForCompletion: body.WaitForCompletion,
	})
	if err != nil {
		var flowErr *schema.FlowError
		if errors.As(err, &flowErr) {
			switch flowErr.Code {
			case schema.ErrCodeNotFound:
				writeError(w, http.StatusNotFound, flowErr.Error())
				return
			case schema.ErrCodeValidation, schema.ErrCodeConflict:
				writeError(w, http.StatusUnprocessableEntity, flowErr.Error())
				return
			}
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("start flow: %v", err))
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// handleListExecutions lists executions, optionally filtered.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{
		FlowID: r.URL.Query().Get("flow_id"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := schema.ExecutionStatus(v)
		filter.Status = &status
	}

	execs, err := s.deps.Store.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list executions: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

// handleGetExecution fetches one execution snapshot.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "execution")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleCancelExecution requests cooperative cancellation. cancelled=false
// means the execution was not found in-flight (unknown or already terminal).
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled := s.deps.Engine.Cancel(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"execution_id": id,
		"cancelled":    cancelled,
	})
}

// handleCreateSchedule creates a cron schedule for a flow.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		FlowID         string          `json:"flow_id"`
		CronExpression string          `json:"cron_expression"`
		Input          json.RawMessage `json:"input"`
		Enabled        bool            `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.FlowID == "" || body.CronExpression == "" {
		writeError(w, http.StatusBadRequest, "flow_id and cron_expression are required")
		return
	}

	sched := &store.Schedule{
		ID:             uuid.New().String(),
		FlowID:         body.FlowID,
		CronExpression: body.CronExpression,
		Input:          body.Input,
		Enabled:        body.Enabled,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.deps.Store.CreateSchedule(ctx, sched); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create schedule: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": sched.ID})
}

// handleUpdateSchedule updates a schedule.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		CronExpression *string         `json:"cron_expression"`
		Input          json.RawMessage `json:"input"`
		Enabled        *bool           `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if err := s.deps.Store.UpdateSchedule(r.Context(), id, store.ScheduleUpdate{
		CronExpression: body.CronExpression,
		Input:          body.Input,
		Enabled:        body.Enabled,
	}); err != nil {
		writeStoreError(w, err, "schedule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

// handleDeleteSchedule deletes a schedule.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteSchedule(r.Context(), id); err != nil {
		writeStoreError(w, err, "schedule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}
