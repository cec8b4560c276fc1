package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
)

// EnsureSchema creates tables if they don't exist. Instants are stored
// as unix milliseconds.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  cron_expression TEXT NOT NULL,
  task_type TEXT NOT NULL,
  priority TEXT NOT NULL CHECK(priority IN ('HIGH','MEDIUM','LOW')) DEFAULT 'MEDIUM',
  status TEXT NOT NULL CHECK(status IN ('ACTIVE','PAUSED')) DEFAULT 'ACTIVE',
  payload BLOB,
  retry_count INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 3,
  next_execution_time INTEGER NOT NULL,
  last_execution_time INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, next_execution_time);
CREATE TABLE IF NOT EXISTS task_executions (
  id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  execution_time INTEGER NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('RUNNING','SUCCESS','FAILED')),
  error_message TEXT,
  execution_duration_ms INTEGER,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_executions_task ON task_executions(task_id, execution_time DESC);
`
	_, err := db.Exec(schema)
	return err
}

// OpenSQLite opens (creating if needed) the database file at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	return db, nil
}

type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) Store { return &sqliteStore{db: db, now: time.Now} }

const taskColumns = `id,name,description,cron_expression,task_type,priority,status,payload,retry_count,max_retries,next_execution_time,last_execution_time,created_at,updated_at`

const priorityRank = `CASE priority WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 WHEN 'LOW' THEN 1 ELSE 0 END`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                  domain.Task
		payload            []byte
		next, created, upd int64
		last               sql.NullInt64
		priority, status   string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.CronExpression, &t.TaskType, &priority, &status,
		&payload, &t.RetryCount, &t.MaxRetries, &next, &last, &created, &upd); err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(priority)
	t.Status = domain.TaskStatus(status)
	if len(payload) > 0 {
		t.Payload = json.RawMessage(payload)
	}
	t.NextExecutionTime = fromMillis(next)
	if last.Valid {
		lt := fromMillis(last.Int64)
		t.LastExecutionTime = &lt
	}
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(upd)
	return t, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) SaveTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	now := s.now().UTC()
	if t.ID == "" {
		t.ID = "tsk_" + uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	var last any
	if t.LastExecutionTime != nil {
		last = toMillis(*t.LastExecutionTime)
	}
	var payload any
	if len(t.Payload) > 0 {
		payload = []byte(t.Payload)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  name=excluded.name,
  description=excluded.description,
  cron_expression=excluded.cron_expression,
  task_type=excluded.task_type,
  priority=excluded.priority,
  status=excluded.status,
  payload=excluded.payload,
  retry_count=excluded.retry_count,
  max_retries=excluded.max_retries,
  next_execution_time=excluded.next_execution_time,
  last_execution_time=excluded.last_execution_time,
  updated_at=excluded.updated_at
`, t.ID, t.Name, t.Description, t.CronExpression, t.TaskType, string(t.Priority), string(t.Status), payload,
		t.RetryCount, t.MaxRetries, toMillis(t.NextExecutionTime), last, toMillis(t.CreatedAt), toMillis(t.UpdatedAt))
	if err != nil {
		return domain.Task{}, fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return t, nil
}

func (s *sqliteStore) DueTasks(ctx context.Context, now time.Time) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE status='ACTIVE' AND next_execution_time <= ?
ORDER BY `+priorityRank+` DESC, next_execution_time ASC, created_at ASC`, toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *sqliteStore) TaskExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id=?`, id).Scan(&n)
	return n > 0, err
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, p ListTasksParams) ([]domain.Task, int, error) {
	limit, offset := normalizePage(p.Limit, p.Offset)

	var (
		where []string
		args  []any
	)
	if p.Status != "" {
		where = append(where, "status=?")
		args = append(args, string(p.Status))
	}
	if p.Name != "" {
		where = append(where, `LOWER(name) LIKE LOWER(?) ESCAPE '\'`)
		args = append(args, containsPattern(p.Name))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks`+clause+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

const executionColumns = `id,task_id,execution_time,status,error_message,execution_duration_ms,created_at`

func scanExecution(row rowScanner) (domain.Execution, error) {
	var (
		e               domain.Execution
		execAt, created int64
		status          string
		msg             sql.NullString
		dur             sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.TaskID, &execAt, &status, &msg, &dur, &created); err != nil {
		return domain.Execution{}, err
	}
	e.ExecutionTime = fromMillis(execAt)
	e.Status = domain.ExecutionStatus(status)
	e.ErrorMessage = msg.String
	if dur.Valid {
		d := dur.Int64
		e.ExecutionDurationMs = &d
	}
	e.CreatedAt = fromMillis(created)
	return e, nil
}

func (s *sqliteStore) InsertExecution(ctx context.Context, e domain.Execution) (domain.Execution, error) {
	if e.ID == "" {
		e.ID = "run_" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_executions (`+executionColumns+`) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, toMillis(e.ExecutionTime), string(e.Status), nullString(e.ErrorMessage), e.ExecutionDurationMs, toMillis(e.CreatedAt))
	if err != nil {
		return domain.Execution{}, fmt.Errorf("insert execution for task %s: %w", e.TaskID, err)
	}
	return e, nil
}

func (s *sqliteStore) UpdateExecution(ctx context.Context, e domain.Execution) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE task_executions SET status=?, error_message=?, execution_duration_ms=? WHERE id=?`,
		string(e.Status), nullString(e.ErrorMessage), e.ExecutionDurationMs, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListExecutions(ctx context.Context, taskID string, p ListExecutionsParams) ([]domain.Execution, error) {
	limit, offset := normalizePage(p.Limit, p.Offset)
	rows, err := s.db.QueryContext(ctx, `
SELECT `+executionColumns+`
FROM task_executions
WHERE task_id=?
ORDER BY execution_time DESC, rowid DESC
LIMIT ? OFFSET ?`, taskID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Execution, 0, limit)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountExecutions(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM task_executions WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}

func (s *sqliteStore) CountExecutionsByStatus(ctx context.Context, taskID string, status domain.ExecutionStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM task_executions WHERE task_id=? AND status=?`, taskID, string(status)).Scan(&n)
	return n, err
}

func (s *sqliteStore) RecoverInterrupted(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE task_executions
SET status='FAILED', error_message=?
WHERE status='RUNNING' AND execution_time < ?`, InterruptedMessage, toMillis(before))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error { return s.db.Close() }

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
