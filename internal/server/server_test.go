package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/internal/engine"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/internal/streaming"
	"github.com/flowline-dev/flowline/internal/validation"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// mockAPIStore satisfies store.Store for server tests.
type mockAPIStore struct {
	store.Store
	mu        sync.Mutex
	flows     map[string]*store.Flow
	execs     map[string]*store.FlowExecution
	schedules map[string]*store.Schedule
	stats     *store.ExecutionStats
}

func newMockAPIStore() *mockAPIStore {
	return &mockAPIStore{
		flows:     make(map[string]*store.Flow),
		execs:     make(map[string]*store.FlowExecution),
		schedules: make(map[string]*store.Schedule),
	}
}

func (m *mockAPIStore) CreateFlow(_ context.Context, flow *store.Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *flow
	m.flows[flow.ID] = &cp
	return nil
}

func (m *mockAPIStore) GetFlow(_ context.Context, id string) (*store.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found", id)
	}
	cp := *f
	return &cp, nil
}

func (m *mockAPIStore) ListFlows(_ context.Context, filter store.FlowFilter) ([]*store.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Flow
	for _, f := range m.flows {
		if filter.IsActive != nil && f.IsActive != *filter.IsActive {
			continue
		}
		cp := *f
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockAPIStore) DeleteFlow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flows[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found", id)
	}
	delete(m.flows, id)
	return nil
}

func (m *mockAPIStore) CreateExecution(_ context.Context, exec *store.FlowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *exec
	m.execs[exec.ID] = &cp
	return nil
}

func (m *mockAPIStore) UpdateExecution(_ context.Context, id string, update store.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	if update.Status != nil {
		e.Status = *update.Status
	}
	if update.Result != nil {
		e.Result = update.Result
	}
	if update.Error != nil {
		e.Error = *update.Error
	}
	if update.NodeExecutions != nil {
		e.NodeExecutions = append([]store.NodeExecution(nil), update.NodeExecutions...)
	}
	if update.TokensUsed != nil {
		e.TokensUsed = *update.TokensUsed
	}
	if update.Cost != nil {
		e.Cost = *update.Cost
	}
	return nil
}

func (m *mockAPIStore) GetExecution(_ context.Context, id string) (*store.FlowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	cp := *e
	return &cp, nil
}

func (m *mockAPIStore) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]*store.FlowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.FlowExecution
	for _, e := range m.execs {
		if filter.FlowID != "" && e.FlowID != filter.FlowID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockAPIStore) GetStats(_ context.Context, flowID string) (*store.ExecutionStats, error) {
	if m.stats == nil {
		return &store.ExecutionStats{}, nil
	}
	return m.stats, nil
}

func (m *mockAPIStore) CreateSchedule(_ context.Context, sched *store.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sched
	m.schedules[sched.ID] = &cp
	return nil
}

func (m *mockAPIStore) UpdateSchedule(_ context.Context, id string, update store.ScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	if update.Enabled != nil {
		s.Enabled = *update.Enabled
	}
	if update.CronExpression != nil {
		s.CronExpression = *update.CronExpression
	}
	return nil
}

func (m *mockAPIStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	delete(m.schedules, id)
	return nil
}

// mockFlowEngine tracks Start/Cancel calls.
type mockFlowEngine struct {
	mu        sync.Mutex
	started   []engine.StartFlowExecutionRequest
	startErr  error
	cancelled map[string]bool
}

func (m *mockFlowEngine) Start(_ context.Context, req engine.StartFlowExecutionRequest) (*engine.StartFlowExecutionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, req)
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &engine.StartFlowExecutionResponse{
		ExecutionID: "exec-1",
		Status:      schema.ExecutionStatusRunning,
	}, nil
}

func (m *mockFlowEngine) Cancel(executionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[executionID]
}

func newTestServer(t *testing.T) (*mockAPIStore, *mockFlowEngine, *streaming.MemoryHub, *httptest.Server) {
	t.Helper()
	ms := newMockAPIStore()
	eng := &mockFlowEngine{cancelled: map[string]bool{}}
	hub := streaming.NewMemoryHub()
	srv := NewServer(Deps{
		Store:  ms,
		Engine: eng,
		Hub:    hub,
		Logger: slog.New(slog.DiscardHandler),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ms, eng, hub, ts
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// --- Tests ---

func TestCreateAndGetFlow(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/flows", "application/json",
		strings.NewReader(`{"definition":{"name":"summarizer","nodes":[]},"category":"demo"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody(t, resp)["id"].(string)
	require.NotEmpty(t, id)

	resp, err = http.Get(ts.URL + "/api/flows/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "demo", body["category"])
	assert.Equal(t, true, body["is_active"])
}

func TestCreateFlow_MissingName(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/flows", "application/json",
		strings.NewReader(`{"definition":{"nodes":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetFlow_NotFound(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/flows/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStartFlow(t *testing.T) {
	_, eng, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/flows/flow-1/start", "application/json",
		strings.NewReader(`{"input":{"text":"hello"},"wait_for_completion":true}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "exec-1", body["execution_id"])

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.started, 1)
	assert.Equal(t, "flow-1", eng.started[0].FlowID)
	assert.Equal(t, schema.TriggerAPI, eng.started[0].TriggeredBy)
	assert.Equal(t, "hello", eng.started[0].Input["text"])
	assert.True(t, eng.started[0].WaitForCompletion)
}

func TestStartFlow_ValidationError(t *testing.T) {
	_, eng, _, ts := newTestServer(t)
	eng.startErr = schema.NewError(schema.ErrCodeValidation, "first node must be an input node")

	resp, err := http.Post(ts.URL+"/api/flows/flow-1/start", "application/json",
		strings.NewReader(`{"input":{}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestStartFlow_NotFound(t *testing.T) {
	_, eng, _, ts := newTestServer(t)
	eng.startErr = schema.NewError(schema.ErrCodeNotFound, "flow not found")

	resp, err := http.Post(ts.URL+"/api/flows/missing/start", "application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelExecution(t *testing.T) {
	_, eng, _, ts := newTestServer(t)
	eng.cancelled["exec-1"] = true

	resp, err := http.Post(ts.URL+"/api/executions/exec-1/cancel", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["cancelled"])

	// Unknown or terminal executions report cancelled=false.
	resp, err = http.Post(ts.URL+"/api/executions/exec-2/cancel", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["cancelled"])
}

func TestListExecutions_FilterByStatus(t *testing.T) {
	ms, _, _, ts := newTestServer(t)
	ms.execs["e1"] = &store.FlowExecution{ID: "e1", FlowID: "f1", Status: schema.ExecutionStatusCompleted}
	ms.execs["e2"] = &store.FlowExecution{ID: "e2", FlowID: "f1", Status: schema.ExecutionStatusFailed}

	resp, err := http.Get(ts.URL + "/api/executions?status=completed")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	execs := body["executions"].([]any)
	require.Len(t, execs, 1)
	assert.Equal(t, "e1", execs[0].(map[string]any)["id"])
}

func TestGetExecution(t *testing.T) {
	ms, _, _, ts := newTestServer(t)
	ms.execs["e1"] = &store.FlowExecution{ID: "e1", FlowID: "f1", Status: schema.ExecutionStatusRunning}

	resp, err := http.Get(ts.URL + "/api/executions/e1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", decodeBody(t, resp)["status"])

	resp, err = http.Get(ts.URL + "/api/executions/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestScheduleCRUD(t *testing.T) {
	ms, _, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/schedules", "application/json",
		strings.NewReader(`{"flow_id":"f1","cron_expression":"0 * * * *","enabled":true}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody(t, resp)["id"].(string)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/schedules/"+id,
		strings.NewReader(`{"enabled":false}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.False(t, ms.schedules[id].Enabled)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/schedules/"+id, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Empty(t, ms.schedules)
}

func TestCreateSchedule_MissingFields(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/schedules", "application/json",
		strings.NewReader(`{"flow_id":"f1"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

// TestCreateFlowFromExampleThenStart drives the shipped example definition
// through a real engine: the definition arrives with no id of its own, gets
// one on POST /api/flows, and must then start and complete.
func TestCreateFlowFromExampleThenStart(t *testing.T) {
	ms := newMockAPIStore()
	hub := streaming.NewMemoryHub()
	v, err := validation.NewFlowValidator()
	require.NoError(t, err)
	runner := engine.AgentRunnerFunc(func(context.Context, engine.AgentRequest) (*engine.AgentResult, error) {
		return &engine.AgentResult{Output: "a tidy summary", TokensUsed: 9, Cost: 0.0009}, nil
	})
	logger := slog.New(slog.DiscardHandler)
	eng := engine.NewEngine(ms, hub, v, runner, logger, nil)
	srv := NewServer(Deps{Store: ms, Engine: eng, Hub: hub, Logger: logger})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	example, err := os.ReadFile(filepath.Join("..", "..", "examples", "summarizer.json"))
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/flows", "application/json", bytes.NewReader(example))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody(t, resp)["id"].(string)
	require.NotEmpty(t, id)

	// The stored definition carries the assigned id.
	stored, err := ms.GetFlow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, stored.Definition.ID)

	resp, err = http.Post(ts.URL+"/api/flows/"+id+"/start", "application/json",
		strings.NewReader(`{"input":{"text":"the quick brown fox"},"wait_for_completion":true}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decodeBody(t, resp)
	assert.Equal(t, string(schema.ExecutionStatusCompleted), started["status"])
	assert.NotEmpty(t, started["execution_id"])
}

func TestSSEExecutionStream(t *testing.T) {
	_, _, hub, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/sse/executions/exec-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Publish after the subscription is live, then a terminal event so the
	// stream closes on its own.
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = hub.Publish(context.Background(), schema.FlowExecutionUpdate{
			Type:        schema.UpdateExecutionStarted,
			ExecutionID: "exec-1",
		})
		_ = hub.Publish(context.Background(), schema.FlowExecutionUpdate{
			Type:        schema.UpdateExecutionCompleted,
			ExecutionID: "exec-1",
			Data:        map[string]any{"result": "done"},
		})
		// A different execution's update must not reach this stream.
		_ = hub.Publish(context.Background(), schema.FlowExecutionUpdate{
			Type:        schema.UpdateExecutionStarted,
			ExecutionID: "exec-other",
		})
	}()

	var eventNames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventNames = append(eventNames, strings.TrimPrefix(line, "event: "))
		}
	}

	// The stream ended after the terminal event.
	assert.Equal(t, []string{
		schema.UpdateExecutionStarted,
		schema.UpdateExecutionCompleted,
	}, eventNames)
}
