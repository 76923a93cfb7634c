package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowline-dev/flowline/internal/expressions"
	"github.com/flowline-dev/flowline/internal/logging"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/internal/streaming"
	"github.com/flowline-dev/flowline/internal/validation"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// FlowValidator is the validation contract the engine requires.
// Satisfied by *validation.FlowValidator.
type FlowValidator interface {
	Validate(flow *schema.Flow) *schema.ValidationResult
	ValidateInputSchema(input map[string]any, inputSchema []byte) error
}

// StartFlowExecutionRequest starts one run of a flow.
type StartFlowExecutionRequest struct {
	FlowID            string               `json:"flow_id"`
	Input             map[string]any       `json:"input,omitempty"`
	TriggeredBy       schema.TriggerSource `json:"triggered_by,omitempty"`
	TriggerData       json.RawMessage      `json:"trigger_data,omitempty"`
	WaitForCompletion bool                 `json:"wait_for_completion,omitempty"`
}

// StartFlowExecutionResponse reports the started execution. Result is only
// populated when the request waited for completion.
type StartFlowExecutionResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      schema.ExecutionStatus `json:"status"`
	Result      json.RawMessage        `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Engine runs flow executions. Each Start call creates one independent unit
// of work on its own goroutine; executions share nothing beyond the event
// hub's subscriber registry.
type Engine struct {
	store       store.Store
	hub         streaming.Hub
	validator   FlowValidator
	runner      AgentRunner
	logger      *slog.Logger
	interp      *expressions.Interpolator
	transformer *expressions.Transformer
	httpClient  *http.Client
	handlers    map[schema.NodeType]NodeHandler

	// mu guards running.
	mu      sync.Mutex
	running map[string]*executionRun
}

// executionRun tracks a single in-flight execution.
type executionRun struct {
	ec    *ExecutionContext
	done  chan struct{}
	final *store.FlowExecution // set before done is closed
}

// NewEngine creates an Engine. httpClient may be nil.
func NewEngine(s store.Store, hub streaming.Hub, validator FlowValidator, runner AgentRunner, logger *slog.Logger, httpClient *http.Client) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:       s,
		hub:         hub,
		validator:   validator,
		runner:      runner,
		logger:      logger,
		interp:      expressions.NewInterpolator(),
		transformer: expressions.NewTransformer(),
		httpClient:  httpClient,
		running:     make(map[string]*executionRun),
	}
	e.handlers = e.handlerTable()
	return e
}

// Start validates the flow and input, creates the execution record, and runs
// the node chain. Validation failures surface before any execution record
// exists; no node ever runs for an invalid request.
func (e *Engine) Start(ctx context.Context, req StartFlowExecutionRequest) (*StartFlowExecutionResponse, error) {
	flowRec, err := e.store.GetFlow(ctx, req.FlowID)
	if err != nil {
		return nil, err
	}
	flow := &flowRec.Definition
	if !flowRec.IsActive {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "flow %q is not active", req.FlowID)
	}

	if result := e.validator.Validate(flow); !result.Valid() {
		return nil, result.ToError()
	}
	if err := e.validator.ValidateInputSchema(req.Input, flow.InputSchema); err != nil {
		return nil, err
	}

	inputNode := &flow.Nodes[0]
	coerced, result := validation.ResolveInput(inputNode.Input, req.Input)
	if !result.Valid() {
		return nil, result.ToError()
	}

	if req.TriggeredBy == "" {
		req.TriggeredBy = schema.TriggerManual
	}

	executionID := uuid.New().String()
	ec := NewExecutionContext(executionID, flow.ID, coerced, e.emitFunc(executionID))

	now := time.Now().UTC()
	exec := &store.FlowExecution{
		ID:          executionID,
		FlowID:      req.FlowID,
		Status:      schema.ExecutionStatusRunning,
		Input:       coerced,
		TriggeredBy: req.TriggeredBy,
		TriggerData: req.TriggerData,
		CreatedAt:   now,
		StartedAt:   &now,
		UpdatedAt:   now,
	}
	// Snapshot at creation. Store failures are logged, never fatal.
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		e.logger.Warn("persist execution snapshot failed",
			"execution_id", executionID, "flow_id", req.FlowID, "error", err)
	}

	run := &executionRun{ec: ec, done: make(chan struct{})}
	e.mu.Lock()
	e.running[executionID] = run
	e.mu.Unlock()

	runCtx := logging.WithIDs(context.Background(), flow.ID, executionID, "")
	go e.dispatch(runCtx, run, flow, exec)

	if req.WaitForCompletion {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &StartFlowExecutionResponse{
			ExecutionID: executionID,
			Status:      run.final.Status,
			Result:      run.final.Result,
			Error:       run.final.Error,
		}, nil
	}

	return &StartFlowExecutionResponse{
		ExecutionID: executionID,
		Status:      schema.ExecutionStatusRunning,
	}, nil
}

// Cancel requests cooperative cancellation of an execution. Returns false if
// the execution is unknown or already terminal. Safe to call repeatedly and
// concurrently with the dispatcher.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	run, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	run.ec.Cancel()
	return true
}

// Status returns the last execution state the store received, which may lag
// the in-memory state if persistence failed mid-run.
func (e *Engine) Status(ctx context.Context, executionID string) (*store.FlowExecution, error) {
	return e.store.GetExecution(ctx, executionID)
}

// RecoverInterrupted marks executions a previous process left in the running
// state as failed. In-flight state does not survive a restart, so a row still
// running at boot can never finish. Returns the number of rows recovered.
func (e *Engine) RecoverInterrupted(ctx context.Context) (int, error) {
	stale, err := e.store.GetRunningExecutions(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, exec := range stale {
		e.mu.Lock()
		_, inFlight := e.running[exec.ID]
		e.mu.Unlock()
		if inFlight {
			continue
		}
		failed := schema.ExecutionStatusFailed
		errMsg := "execution interrupted by engine restart"
		now := time.Now().UTC()
		if err := e.store.UpdateExecution(ctx, exec.ID, store.ExecutionUpdate{
			Status:      &failed,
			Error:       &errMsg,
			CompletedAt: &now,
		}); err != nil {
			e.logger.Warn("mark interrupted execution failed",
				"execution_id", exec.ID, "error", err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// RunningCount reports the number of in-flight executions.
func (e *Engine) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// emitFunc wires an execution's updates into the hub.
func (e *Engine) emitFunc(executionID string) EmitFunc {
	return func(update schema.FlowExecutionUpdate) {
		if err := e.hub.Publish(context.Background(), update); err != nil {
			e.logger.Warn("publish execution update failed",
				"execution_id", executionID, "type", update.Type, "error", err)
		}
	}
}
