package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  cron_expression TEXT NOT NULL,
  task_type TEXT NOT NULL,
  priority TEXT NOT NULL DEFAULT 'MEDIUM' CHECK (priority IN ('HIGH','MEDIUM','LOW')),
  status TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (status IN ('ACTIVE','PAUSED')),
  payload JSONB,
  retry_count INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 3,
  next_execution_time TIMESTAMPTZ NOT NULL,
  last_execution_time TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, next_execution_time);
CREATE TABLE IF NOT EXISTS task_executions (
  id TEXT PRIMARY KEY,
  seq BIGSERIAL,
  task_id TEXT NOT NULL,
  execution_time TIMESTAMPTZ NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('RUNNING','SUCCESS','FAILED')),
  error_message TEXT,
  execution_duration_ms BIGINT,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_executions_task ON task_executions(task_id, execution_time DESC);
`

type Postgres struct {
	db  *pgxpool.Pool
	now func() time.Time
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects, verifies the connection and creates the schema.
func NewPostgres(ctx context.Context, databaseURL string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Postgres{db: pool, now: time.Now}, nil
}

func scanPgTask(row pgx.Row) (domain.Task, error) {
	var (
		t                domain.Task
		payload          []byte
		priority, status string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.CronExpression, &t.TaskType, &priority, &status,
		&payload, &t.RetryCount, &t.MaxRetries, &t.NextExecutionTime, &t.LastExecutionTime, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(priority)
	t.Status = domain.TaskStatus(status)
	if len(payload) > 0 {
		t.Payload = payload
	}
	t.NextExecutionTime = t.NextExecutionTime.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.LastExecutionTime != nil {
		lt := t.LastExecutionTime.UTC()
		t.LastExecutionTime = &lt
	}
	return t, nil
}

func (s *Postgres) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanPgTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func (s *Postgres) SaveTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	now := s.now().UTC()
	if t.ID == "" {
		t.ID = "tsk_" + uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	var payload any
	if len(t.Payload) > 0 {
		payload = string(t.Payload)
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
  name=EXCLUDED.name,
  description=EXCLUDED.description,
  cron_expression=EXCLUDED.cron_expression,
  task_type=EXCLUDED.task_type,
  priority=EXCLUDED.priority,
  status=EXCLUDED.status,
  payload=EXCLUDED.payload,
  retry_count=EXCLUDED.retry_count,
  max_retries=EXCLUDED.max_retries,
  next_execution_time=EXCLUDED.next_execution_time,
  last_execution_time=EXCLUDED.last_execution_time,
  updated_at=EXCLUDED.updated_at
`, t.ID, t.Name, t.Description, t.CronExpression, t.TaskType, string(t.Priority), string(t.Status), payload,
		t.RetryCount, t.MaxRetries, t.NextExecutionTime, t.LastExecutionTime, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return t, nil
}

func (s *Postgres) queryTasks(ctx context.Context, q string, args ...any) ([]domain.Task, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) DueTasks(ctx context.Context, now time.Time) ([]domain.Task, error) {
	return s.queryTasks(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE status='ACTIVE' AND next_execution_time <= $1
ORDER BY `+priorityRank+` DESC, next_execution_time ASC, created_at ASC`, now)
}

func (s *Postgres) TaskExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id=$1)`, id).Scan(&ok)
	return ok, err
}

func (s *Postgres) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListTasks(ctx context.Context, p ListTasksParams) ([]domain.Task, int, error) {
	limit, offset := normalizePage(p.Limit, p.Offset)

	var (
		where []string
		args  []any
	)
	if p.Status != "" {
		args = append(args, string(p.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if p.Name != "" {
		args = append(args, containsPattern(p.Name))
		where = append(where, fmt.Sprintf(`name ILIKE $%d ESCAPE '\'`, len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM tasks`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	q := fmt.Sprintf(`SELECT %s FROM tasks%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		taskColumns, clause, len(args)+1, len(args)+2)
	tasks, err := s.queryTasks(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, total, nil
}

func scanPgExecution(row pgx.Row) (domain.Execution, error) {
	var (
		e      domain.Execution
		status string
		msg    *string
	)
	if err := row.Scan(&e.ID, &e.TaskID, &e.ExecutionTime, &status, &msg, &e.ExecutionDurationMs, &e.CreatedAt); err != nil {
		return domain.Execution{}, err
	}
	e.Status = domain.ExecutionStatus(status)
	if msg != nil {
		e.ErrorMessage = *msg
	}
	e.ExecutionTime = e.ExecutionTime.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *Postgres) InsertExecution(ctx context.Context, e domain.Execution) (domain.Execution, error) {
	if e.ID == "" {
		e.ID = "run_" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO task_executions (`+executionColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.TaskID, e.ExecutionTime, string(e.Status), nullString(e.ErrorMessage), e.ExecutionDurationMs, e.CreatedAt)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("insert execution for task %s: %w", e.TaskID, err)
	}
	return e, nil
}

func (s *Postgres) UpdateExecution(ctx context.Context, e domain.Execution) error {
	tag, err := s.db.Exec(ctx, `
UPDATE task_executions SET status=$2, error_message=$3, execution_duration_ms=$4 WHERE id=$1`,
		e.ID, string(e.Status), nullString(e.ErrorMessage), e.ExecutionDurationMs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListExecutions(ctx context.Context, taskID string, p ListExecutionsParams) ([]domain.Execution, error) {
	limit, offset := normalizePage(p.Limit, p.Offset)
	rows, err := s.db.Query(ctx, `
SELECT `+executionColumns+`
FROM task_executions
WHERE task_id=$1
ORDER BY execution_time DESC, seq DESC
LIMIT $2 OFFSET $3`, taskID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Execution, 0, limit)
	for rows.Next() {
		e, err := scanPgExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) CountExecutions(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM task_executions WHERE task_id=$1`, taskID).Scan(&n)
	return n, err
}

func (s *Postgres) CountExecutionsByStatus(ctx context.Context, taskID string, status domain.ExecutionStatus) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(1) FROM task_executions WHERE task_id=$1 AND status=$2`, taskID, string(status)).Scan(&n)
	return n, err
}

func (s *Postgres) RecoverInterrupted(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE task_executions
SET status='FAILED', error_message=$1
WHERE status='RUNNING' AND execution_time < $2`, InterruptedMessage, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}
