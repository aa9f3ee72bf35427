package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	// lib/pq registers the "postgres" driver used below.
	_ "github.com/lib/pq"

	"github.com/advatar/clawdex-sub000/internal/clock"
)

// PostgresStore is the optional relational backend for installations that
// want real transactional SQL instead of the default JSON-document file
// store. Schema mirrors clawdex/src/task_db.rs's tables (tasks, task_runs,
// events, approvals, artifacts); see DESIGN.md's C1 entry for why this
// exists alongside FileStore rather than a SQLite driver.
type PostgresStore struct {
	db    *sql.DB
	clock clock.Clock
	bus   EventBus
}

// SetEventBus wires the bus RecordEvent notifies after each insert; nil (the
// default) disables notification.
func (ps *PostgresStore) SetEventBus(bus EventBus) { ps.bus = bus }

// OpenPostgresStore connects to dsn and ensures the schema exists.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	ps := &PostgresStore{db: db, clock: clock.Default}
	if err := ps.migrate(ctx); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			last_run_at_ms BIGINT,
			pinned BOOLEAN NOT NULL DEFAULT FALSE,
			tags_json TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id),
			status TEXT NOT NULL,
			started_at_ms BIGINT NOT NULL,
			ended_at_ms BIGINT,
			thread_id TEXT,
			sandbox_label TEXT,
			approval_policy TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES task_runs(id),
			ts_ms BIGINT NOT NULL,
			kind TEXT NOT NULL,
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS events_run_id_ts_idx ON events (run_id, ts_ms)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES task_runs(id),
			ts_ms BIGINT NOT NULL,
			kind TEXT NOT NULL,
			request_json TEXT NOT NULL,
			decision TEXT,
			decided_at_ms BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES task_runs(id),
			relative_path TEXT NOT NULL,
			mime TEXT,
			sha256 TEXT,
			created_at_ms BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := ps.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (ps *PostgresStore) CreateTask(ctx context.Context, title string) (Task, error) {
	task := Task{ID: ps.clock.NewID(), Title: title, CreatedAt: ps.clock.NowMillis()}
	_, err := ps.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, created_at_ms, pinned) VALUES ($1, $2, $3, FALSE)`,
		task.ID, task.Title, task.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (ps *PostgresStore) GetTask(ctx context.Context, id string) (Task, bool, error) {
	return ps.scanTask(ctx, `SELECT id, title, created_at_ms, last_run_at_ms, pinned, tags_json FROM tasks WHERE id = $1`, id)
}

func (ps *PostgresStore) FindTaskByTitle(ctx context.Context, title string) (Task, bool, error) {
	return ps.scanTask(ctx, `SELECT id, title, created_at_ms, last_run_at_ms, pinned, tags_json FROM tasks WHERE title = $1 LIMIT 1`, title)
}

func (ps *PostgresStore) scanTask(ctx context.Context, query string, arg string) (Task, bool, error) {
	row := ps.db.QueryRowContext(ctx, query, arg)
	var t Task
	var tagsJSON sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &t.CreatedAt, &t.LastRunAt, &t.Pinned, &tagsJSON); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, false, nil
		}
		return Task{}, false, fmt.Errorf("scan task: %w", err)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &t.Tags)
	}
	return t, true, nil
}

func (ps *PostgresStore) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := ps.db.QueryContext(ctx, `SELECT id, title, created_at_ms, last_run_at_ms, pinned, tags_json FROM tasks ORDER BY created_at_ms`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var tagsJSON sql.NullString
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt, &t.LastRunAt, &t.Pinned, &tagsJSON); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &t.Tags)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) TouchTaskLastRun(ctx context.Context, taskID string, ts int64) error {
	res, err := ps.db.ExecContext(ctx, `UPDATE tasks SET last_run_at_ms = $1 WHERE id = $2`, ts, taskID)
	if err != nil {
		return fmt.Errorf("touch task: %w", err)
	}
	return requireRowsAffected(res, "task", taskID)
}

func (ps *PostgresStore) CreateRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = ps.clock.NewID()
	}
	if run.StartedAt == 0 {
		run.StartedAt = ps.clock.NowMillis()
	}
	_, err := ps.db.ExecContext(ctx,
		`INSERT INTO task_runs (id, task_id, status, started_at_ms, thread_id, sandbox_label, approval_policy)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.TaskID, run.Status, run.StartedAt, run.ThreadID, run.SandboxLabel, run.ApprovalPolicyName)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (ps *PostgresStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	row := ps.db.QueryRowContext(ctx,
		`SELECT id, task_id, status, started_at_ms, ended_at_ms, thread_id, sandbox_label, approval_policy FROM task_runs WHERE id = $1`, id)
	var r Run
	if err := row.Scan(&r.ID, &r.TaskID, &r.Status, &r.StartedAt, &r.EndedAt, &r.ThreadID, &r.SandboxLabel, &r.ApprovalPolicyName); err != nil {
		if err == sql.ErrNoRows {
			return Run{}, false, nil
		}
		return Run{}, false, fmt.Errorf("scan run: %w", err)
	}
	return r, true, nil
}

func (ps *PostgresStore) UpdateRunStatus(ctx context.Context, id, status string, endedAt *int64) error {
	res, err := ps.db.ExecContext(ctx,
		`UPDATE task_runs SET status = $1, ended_at_ms = $2
		 WHERE id = $3 AND status NOT IN ('completed', 'failed', 'cancelled', 'canceled', 'interrupted')`,
		status, endedAt, id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	_, err = res.RowsAffected()
	return err
}

func (ps *PostgresStore) SetRunThread(ctx context.Context, id, threadID string) error {
	res, err := ps.db.ExecContext(ctx, `UPDATE task_runs SET thread_id = $1 WHERE id = $2`, threadID, id)
	if err != nil {
		return fmt.Errorf("set run thread: %w", err)
	}
	return requireRowsAffected(res, "run", id)
}

// LatestRunForTask returns the most recently started run for taskID.
func (ps *PostgresStore) LatestRunForTask(ctx context.Context, taskID string) (Run, bool, error) {
	row := ps.db.QueryRowContext(ctx,
		`SELECT id, task_id, status, started_at_ms, ended_at_ms, thread_id, sandbox_label, approval_policy
		 FROM task_runs WHERE task_id = $1 ORDER BY started_at_ms DESC LIMIT 1`, taskID)
	var r Run
	if err := row.Scan(&r.ID, &r.TaskID, &r.Status, &r.StartedAt, &r.EndedAt, &r.ThreadID, &r.SandboxLabel, &r.ApprovalPolicyName); err != nil {
		if err == sql.ErrNoRows {
			return Run{}, false, nil
		}
		return Run{}, false, fmt.Errorf("scan latest run: %w", err)
	}
	return r, true, nil
}

func (ps *PostgresStore) RecordEvent(ctx context.Context, runID, kind string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode event payload: %w", err)
	}
	event := Event{ID: ps.clock.NewID(), RunID: runID, Ts: ps.clock.NowMillis(), Kind: kind, Payload: raw}
	_, err = ps.db.ExecContext(ctx,
		`INSERT INTO events (id, run_id, ts_ms, kind, payload_json) VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.RunID, event.Ts, event.Kind, string(raw))
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	if ps.bus != nil {
		ps.bus.Publish(ctx, runID)
	}
	return event, nil
}

func (ps *PostgresStore) ListEventsAfter(ctx context.Context, runID string, after int64, limit int) ([]Event, error) {
	query := `SELECT id, run_id, ts_ms, kind, payload_json FROM events WHERE run_id = $1 AND ts_ms > $2 ORDER BY ts_ms ASC`
	args := []any{runID, after}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var payload string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Ts, &e.Kind, &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) RecordApproval(ctx context.Context, runID, kind string, request any, decision *string) (Approval, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return Approval{}, fmt.Errorf("encode approval request: %w", err)
	}
	approval := Approval{ID: ps.clock.NewID(), RunID: runID, Ts: ps.clock.NowMillis(), Kind: kind, Request: raw, Decision: decision}
	if decision != nil {
		now := ps.clock.NowMillis()
		approval.DecidedAt = &now
	}
	_, err = ps.db.ExecContext(ctx,
		`INSERT INTO approvals (id, run_id, ts_ms, kind, request_json, decision, decided_at_ms) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		approval.ID, approval.RunID, approval.Ts, approval.Kind, string(raw), approval.Decision, approval.DecidedAt)
	if err != nil {
		return Approval{}, fmt.Errorf("insert approval: %w", err)
	}
	return approval, nil
}

func (ps *PostgresStore) DecideApproval(ctx context.Context, id, decision string, decidedAt int64) error {
	res, err := ps.db.ExecContext(ctx, `UPDATE approvals SET decision = $1, decided_at_ms = $2 WHERE id = $3`, decision, decidedAt, id)
	if err != nil {
		return fmt.Errorf("decide approval: %w", err)
	}
	return requireRowsAffected(res, "approval", id)
}

func (ps *PostgresStore) RecordArtifact(ctx context.Context, runID, relativePath string, mime, sha256 *string) (Artifact, error) {
	artifact := Artifact{ID: ps.clock.NewID(), RunID: runID, RelativePath: relativePath, Mime: mime, SHA256: sha256, CreatedAt: ps.clock.NowMillis()}
	_, err := ps.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, run_id, relative_path, mime, sha256, created_at_ms) VALUES ($1, $2, $3, $4, $5, $6)`,
		artifact.ID, artifact.RunID, artifact.RelativePath, artifact.Mime, artifact.SHA256, artifact.CreatedAt)
	if err != nil {
		return Artifact{}, fmt.Errorf("insert artifact: %w", err)
	}
	return artifact, nil
}

func (ps *PostgresStore) ListArtifacts(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := ps.db.QueryContext(ctx,
		`SELECT id, run_id, relative_path, mime, sha256, created_at_ms FROM artifacts WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.RelativePath, &a.Mime, &a.SHA256, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close releases the underlying database connection pool.
func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

func requireRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q not found", entity, id)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
