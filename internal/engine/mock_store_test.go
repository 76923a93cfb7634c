package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// mockStore is an in-memory store.Store for engine tests, with a toggle to
// simulate a persistence outage.
type mockStore struct {
	mu         sync.Mutex
	flows      map[string]*store.Flow
	execs      map[string]*store.FlowExecution
	failWrites bool
	created    int
}

func newMockStore() *mockStore {
	return &mockStore{
		flows: make(map[string]*store.Flow),
		execs: make(map[string]*store.FlowExecution),
	}
}

func (m *mockStore) putFlow(f *store.Flow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[f.ID] = f
}

func (m *mockStore) putExec(e *store.FlowExecution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.execs[e.ID] = &cp
}

func (m *mockStore) setFailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = fail
}

func (m *mockStore) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

func (m *mockStore) getExec(id string) *store.FlowExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.execs[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

// --- Flows ---

func (m *mockStore) CreateFlow(_ context.Context, flow *store.Flow) error {
	m.putFlow(flow)
	return nil
}

func (m *mockStore) GetFlow(_ context.Context, id string) (*store.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found", id)
	}
	cp := *f
	return &cp, nil
}

func (m *mockStore) UpdateFlow(context.Context, string, store.FlowUpdate) error { return nil }

func (m *mockStore) ListFlows(context.Context, store.FlowFilter) ([]*store.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Flow
	for _, f := range m.flows {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) DeleteFlow(context.Context, string) error { return nil }

// --- Executions ---

func (m *mockStore) CreateExecution(_ context.Context, exec *store.FlowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("store unavailable")
	}
	cp := *exec
	m.execs[exec.ID] = &cp
	m.created++
	return nil
}

func (m *mockStore) UpdateExecution(_ context.Context, id string, update store.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errors.New("store unavailable")
	}
	exec, ok := m.execs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	if update.Status != nil {
		exec.Status = *update.Status
	}
	if update.Result != nil {
		exec.Result = update.Result
	}
	if update.Error != nil {
		exec.Error = *update.Error
	}
	if update.CurrentNodeID != nil {
		exec.CurrentNodeID = *update.CurrentNodeID
	}
	if update.NodeExecutions != nil {
		exec.NodeExecutions = append([]store.NodeExecution(nil), update.NodeExecutions...)
	}
	if update.Logs != nil {
		exec.Logs = append([]store.ExecutionLog(nil), update.Logs...)
	}
	if update.TokensUsed != nil {
		exec.TokensUsed = *update.TokensUsed
	}
	if update.Cost != nil {
		exec.Cost = *update.Cost
	}
	if update.StartedAt != nil {
		exec.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		exec.CompletedAt = update.CompletedAt
	}
	return nil
}

func (m *mockStore) GetExecution(_ context.Context, id string) (*store.FlowExecution, error) {
	if e := m.getExec(id); e != nil {
		return e, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
}

func (m *mockStore) GetRunningExecutions(context.Context) ([]*store.FlowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.FlowExecution
	for _, e := range m.execs {
		if e.Status == schema.ExecutionStatusRunning {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) GetRecentExecutions(context.Context, int) ([]*store.FlowExecution, error) {
	return nil, nil
}

func (m *mockStore) ListExecutions(context.Context, store.ExecutionFilter) ([]*store.FlowExecution, error) {
	return nil, nil
}

func (m *mockStore) GetStats(_ context.Context, flowID string) (*store.ExecutionStats, error) {
	return &store.ExecutionStats{FlowID: flowID}, nil
}

// --- Schedules ---

func (m *mockStore) CreateSchedule(context.Context, *store.Schedule) error { return nil }
func (m *mockStore) GetSchedule(context.Context, string) (*store.Schedule, error) {
	return nil, schema.NewError(schema.ErrCodeNotFound, "schedule not found")
}
func (m *mockStore) UpdateSchedule(context.Context, string, store.ScheduleUpdate) error { return nil }
func (m *mockStore) ListSchedules(context.Context, store.ScheduleFilter) ([]*store.Schedule, error) {
	return nil, nil
}
func (m *mockStore) DeleteSchedule(context.Context, string) error { return nil }

// --- Maintenance ---

func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Vacuum(context.Context) error  { return nil }
func (m *mockStore) Close() error                  { return nil }
