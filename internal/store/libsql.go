package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Flows ---

func (s *LibSQLStore) CreateFlow(ctx context.Context, flow *Flow) error {
	def, err := json.Marshal(flow.Definition)
	if err != nil {
		return fmt.Errorf("marshal flow definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (id, definition, is_active, version, category, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		flow.ID, string(def), flow.IsActive, flow.Version, nullStr(flow.Category),
		timeOrNow(flow.CreatedAt), timeOrNow(flow.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetFlow(ctx context.Context, id string) (*Flow, error) {
	f := &Flow{}
	var defJSON string
	var category sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, definition, is_active, version, category, created_at, updated_at
		 FROM flows WHERE id = ?`, id,
	).Scan(&f.ID, &defJSON, &f.IsActive, &f.Version, &category, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("flow", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(defJSON), &f.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal flow definition: %w", err)
	}
	// The row id is canonical; definitions stored before the id was synced
	// at creation may carry an empty or stale one.
	f.Definition.ID = f.ID
	f.Category = category.String
	return f, nil
}

func (s *LibSQLStore) UpdateFlow(ctx context.Context, id string, update FlowUpdate) error {
	var sets []string
	var args []any

	if update.Definition != nil {
		update.Definition.ID = id
		def, err := json.Marshal(update.Definition)
		if err != nil {
			return fmt.Errorf("marshal flow definition: %w", err)
		}
		sets = append(sets, "definition = ?", "version = version + 1")
		args = append(args, string(def))
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *update.IsActive)
	}
	if update.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, nullStr(*update.Category))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE flows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "flow", id)
}

func (s *LibSQLStore) ListFlows(ctx context.Context, filter FlowFilter) ([]*Flow, error) {
	var where []string
	var args []any

	if filter.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, *filter.IsActive)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}

	query := `SELECT id, definition, is_active, version, category, created_at, updated_at FROM flows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*Flow
	for rows.Next() {
		f := &Flow{}
		var defJSON string
		var category sql.NullString
		if err := rows.Scan(&f.ID, &defJSON, &f.IsActive, &f.Version, &category, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(defJSON), &f.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal flow definition: %w", err)
		}
		f.Definition.ID = f.ID
		f.Category = category.String
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *LibSQLStore) DeleteFlow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "flow", id)
}

// --- Executions ---

const executionColumns = `id, flow_id, status, input, result, error, current_node_id, node_executions, logs, tokens_used, cost, triggered_by, trigger_data, created_at, started_at, completed_at, updated_at`

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *FlowExecution) error {
	input, err := marshalMapOrDefault(exec.Input)
	if err != nil {
		return fmt.Errorf("marshal execution input: %w", err)
	}
	nodeExecs, err := marshalSliceOrNil(exec.NodeExecutions)
	if err != nil {
		return fmt.Errorf("marshal node executions: %w", err)
	}
	logs, err := marshalSliceOrNil(exec.Logs)
	if err != nil {
		return fmt.Errorf("marshal execution logs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.FlowID, string(exec.Status), string(input),
		nullRaw(exec.Result), nullStr(exec.Error), nullStr(exec.CurrentNodeID),
		nodeExecs, logs, exec.TokensUsed, exec.Cost,
		string(exec.TriggeredBy), nullRaw(exec.TriggerData),
		timeOrNow(exec.CreatedAt), nullTime(exec.StartedAt), nullTime(exec.CompletedAt),
		timeOrNow(exec.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(update.Result))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.CurrentNodeID != nil {
		sets = append(sets, "current_node_id = ?")
		args = append(args, nullStr(*update.CurrentNodeID))
	}
	if update.NodeExecutions != nil {
		nodeExecs, err := marshalSliceOrNil(update.NodeExecutions)
		if err != nil {
			return fmt.Errorf("marshal node executions: %w", err)
		}
		sets = append(sets, "node_executions = ?")
		args = append(args, nodeExecs)
	}
	if update.Logs != nil {
		logs, err := marshalSliceOrNil(update.Logs)
		if err != nil {
			return fmt.Errorf("marshal execution logs: %w", err)
		}
		sets = append(sets, "logs = ?")
		args = append(args, logs)
	}
	if update.TokensUsed != nil {
		sets = append(sets, "tokens_used = ?")
		args = append(args, *update.TokensUsed)
	}
	if update.Cost != nil {
		sets = append(sets, "cost = ?")
		args = append(args, *update.Cost)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE flow_executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*FlowExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM flow_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

func (s *LibSQLStore) GetRunningExecutions(ctx context.Context) ([]*FlowExecution, error) {
	running := schema.ExecutionStatusRunning
	return s.ListExecutions(ctx, ExecutionFilter{Status: &running})
}

func (s *LibSQLStore) GetRecentExecutions(ctx context.Context, limit int) ([]*FlowExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.ListExecutions(ctx, ExecutionFilter{Limit: limit})
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*FlowExecution, error) {
	var where []string
	var args []any

	if filter.FlowID != "" {
		where = append(where, "flow_id = ?")
		args = append(args, filter.FlowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.TriggeredBy != "" {
		where = append(where, "triggered_by = ?")
		args = append(args, string(filter.TriggeredBy))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + executionColumns + ` FROM flow_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*FlowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func (s *LibSQLStore) GetStats(ctx context.Context, flowID string) (*ExecutionStats, error) {
	stats := &ExecutionStats{FlowID: flowID}
	var avgDuration sql.NullFloat64
	var lastExecuted sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN completed_at IS NOT NULL AND started_at IS NOT NULL
				THEN (julianday(completed_at) - julianday(started_at)) * 86400000 END),
			COALESCE(SUM(tokens_used), 0),
			COALESCE(SUM(cost), 0),
			MAX(created_at)
		 FROM flow_executions WHERE flow_id = ?`, flowID,
	).Scan(&stats.Total, &stats.Completed, &stats.Failed, &stats.Cancelled, &stats.Running,
		&avgDuration, &stats.TotalTokens, &stats.TotalCost, &lastExecuted)
	if err != nil {
		return nil, err
	}
	if avgDuration.Valid {
		stats.AvgDurationMs = avgDuration.Float64
	}
	if lastExecuted.Valid {
		stats.LastExecutedAt = &lastExecuted.Time
	}
	return stats, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanExecution.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*FlowExecution, error) {
	exec := &FlowExecution{}
	var (
		status, triggeredBy                   string
		inputJSON                             string
		result, errMsg, currentNode           sql.NullString
		nodeExecs, logs, triggerData          sql.NullString
		startedAt, completedAt                sql.NullTime
	)
	if err := row.Scan(&exec.ID, &exec.FlowID, &status, &inputJSON, &result, &errMsg,
		&currentNode, &nodeExecs, &logs, &exec.TokensUsed, &exec.Cost,
		&triggeredBy, &triggerData, &exec.CreatedAt, &startedAt, &completedAt,
		&exec.UpdatedAt); err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)
	exec.TriggeredBy = schema.TriggerSource(triggeredBy)
	if inputJSON != "" {
		_ = json.Unmarshal([]byte(inputJSON), &exec.Input)
	}
	exec.Result = rawOrNil(result)
	exec.Error = errMsg.String
	exec.CurrentNodeID = currentNode.String
	if nodeExecs.Valid && nodeExecs.String != "" {
		if err := json.Unmarshal([]byte(nodeExecs.String), &exec.NodeExecutions); err != nil {
			return nil, fmt.Errorf("unmarshal node executions: %w", err)
		}
	}
	if logs.Valid && logs.String != "" {
		if err := json.Unmarshal([]byte(logs.String), &exec.Logs); err != nil {
			return nil, fmt.Errorf("unmarshal execution logs: %w", err)
		}
	}
	exec.TriggerData = rawOrNil(triggerData)
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	return exec, nil
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flow_schedules (id, flow_id, cron_expression, input, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.FlowID, sched.CronExpression, nullRaw(sched.Input), sched.Enabled,
		nullTime(sched.LastRunAt), nullTime(sched.NextRunAt), nullStr(sched.LastRunStatus),
		timeOrNow(sched.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	sched := &Schedule{}
	var input, lastStatus sql.NullString
	var lastRun, nextRun sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, flow_id, cron_expression, input, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM flow_schedules WHERE id = ?`, id,
	).Scan(&sched.ID, &sched.FlowID, &sched.CronExpression, &input, &sched.Enabled,
		&lastRun, &nextRun, &lastStatus, &sched.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	if err != nil {
		return nil, err
	}
	sched.Input = rawOrNil(input)
	sched.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		sched.NextRunAt = &nextRun.Time
	}
	return sched, nil
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var sets []string
	var args []any

	if update.CronExpression != nil {
		sets = append(sets, "cron_expression = ?")
		args = append(args, *update.CronExpression)
	}
	if update.Input != nil {
		sets = append(sets, "input = ?")
		args = append(args, string(update.Input))
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE flow_schedules SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	var where []string
	var args []any

	if filter.FlowID != "" {
		where = append(where, "flow_id = ?")
		args = append(args, filter.FlowID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}

	query := `SELECT id, flow_id, cron_expression, input, enabled, last_run_at, next_run_at, last_run_status, created_at FROM flow_schedules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scheds []*Schedule
	for rows.Next() {
		sched := &Schedule{}
		var input, lastStatus sql.NullString
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&sched.ID, &sched.FlowID, &sched.CronExpression, &input, &sched.Enabled,
			&lastRun, &nextRun, &lastStatus, &sched.CreatedAt); err != nil {
			return nil, err
		}
		sched.Input = rawOrNil(input)
		sched.LastRunStatus = lastStatus.String
		if lastRun.Valid {
			sched.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			sched.NextRunAt = &nextRun.Time
		}
		scheds = append(scheds, sched)
	}
	return scheds, rows.Err()
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flow_schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func marshalSliceOrNil[T any](s []T) (any, error) {
	if len(s) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
