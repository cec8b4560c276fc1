package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
)

// Memory keeps everything in process. It is used by tests and by the
// "memory" database driver.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
	execs map[string]domain.Execution
	seq   map[string]int64 // insertion order, breaks executionTime ties
	next  int64
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[string]domain.Task),
		execs: make(map[string]domain.Execution),
		seq:   make(map[string]int64),
		now:   time.Now,
	}
}

var _ Store = (*Memory)(nil)

func copyTask(t domain.Task) domain.Task {
	if t.LastExecutionTime != nil {
		lt := *t.LastExecutionTime
		t.LastExecutionTime = &lt
	}
	if t.Payload != nil {
		t.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	return t
}

func (m *Memory) GetTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return copyTask(t), nil
}

func (m *Memory) SaveTask(_ context.Context, t domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if t.ID == "" {
		t.ID = "tsk_" + uuid.NewString()
	}
	if prev, ok := m.tasks[t.ID]; ok {
		t.CreatedAt = prev.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.tasks[t.ID] = copyTask(t)
	return copyTask(t), nil
}

func (m *Memory) DueTasks(_ context.Context, now time.Time) ([]domain.Task, error) {
	m.mu.RLock()
	var due []domain.Task
	for _, t := range m.tasks {
		if t.Status == domain.TaskActive && !t.NextExecutionTime.After(now) {
			due = append(due, copyTask(t))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if !a.NextExecutionTime.Equal(b.NextExecutionTime) {
			return a.NextExecutionTime.Before(b.NextExecutionTime)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return due, nil
}

func (m *Memory) TaskExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tasks[id]
	return ok, nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) ListTasks(_ context.Context, p ListTasksParams) ([]domain.Task, int, error) {
	limit, offset := normalizePage(p.Limit, p.Offset)
	name := strings.ToLower(p.Name)

	m.mu.RLock()
	var matched []domain.Task
	for _, t := range m.tasks {
		if p.Status != "" && t.Status != p.Status {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(t.Name), name) {
			continue
		}
		matched = append(matched, copyTask(t))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if offset >= total {
		return []domain.Task{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func copyExecution(e domain.Execution) domain.Execution {
	if e.ExecutionDurationMs != nil {
		d := *e.ExecutionDurationMs
		e.ExecutionDurationMs = &d
	}
	return e
}

func (m *Memory) InsertExecution(_ context.Context, e domain.Execution) (domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = "run_" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now().UTC()
	}
	m.next++
	m.seq[e.ID] = m.next
	m.execs[e.ID] = copyExecution(e)
	return copyExecution(e), nil
}

func (m *Memory) UpdateExecution(_ context.Context, e domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.execs[e.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = e.Status
	cur.ErrorMessage = e.ErrorMessage
	cur.ExecutionDurationMs = e.ExecutionDurationMs
	m.execs[e.ID] = copyExecution(cur)
	return nil
}

func (m *Memory) ListExecutions(_ context.Context, taskID string, p ListExecutionsParams) ([]domain.Execution, error) {
	limit, offset := normalizePage(p.Limit, p.Offset)

	m.mu.RLock()
	var out []domain.Execution
	for _, e := range m.execs {
		if e.TaskID == taskID {
			out = append(out, copyExecution(e))
		}
	}
	seq := make(map[string]int64, len(out))
	for _, e := range out {
		seq[e.ID] = m.seq[e.ID]
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecutionTime.Equal(out[j].ExecutionTime) {
			return out[i].ExecutionTime.After(out[j].ExecutionTime)
		}
		return seq[out[i].ID] > seq[out[j].ID]
	})
	if offset >= len(out) {
		return []domain.Execution{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (m *Memory) CountExecutions(_ context.Context, taskID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.execs {
		if e.TaskID == taskID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountExecutionsByStatus(_ context.Context, taskID string, status domain.ExecutionStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.execs {
		if e.TaskID == taskID && e.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecoverInterrupted(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.execs {
		if e.Status == domain.ExecutionRunning && e.ExecutionTime.Before(before) {
			e.Status = domain.ExecutionFailed
			e.ErrorMessage = InterruptedMessage
			m.execs[id] = e
			n++
		}
	}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
