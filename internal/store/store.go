package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
)

var ErrNotFound = errors.New("not found")

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

type ListTasksParams struct {
	Status domain.TaskStatus // empty means any
	Name   string            // case-insensitive substring
	Limit  int
	Offset int
}

type ListExecutionsParams struct {
	Limit  int
	Offset int
}

// TaskStore is the system of record for tasks.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
	// SaveTask inserts or replaces a task, assigning an id to new ones.
	SaveTask(ctx context.Context, t domain.Task) (domain.Task, error)
	// DueTasks returns ACTIVE tasks with NextExecutionTime <= now, highest
	// priority first, then oldest due time first.
	DueTasks(ctx context.Context, now time.Time) ([]domain.Task, error)
	TaskExists(ctx context.Context, id string) (bool, error)
	DeleteTask(ctx context.Context, id string) error
	// ListTasks returns one page plus the total number of matches.
	ListTasks(ctx context.Context, p ListTasksParams) ([]domain.Task, int, error)
}

// HistoryStore keeps one record per execution attempt.
type HistoryStore interface {
	InsertExecution(ctx context.Context, e domain.Execution) (domain.Execution, error)
	UpdateExecution(ctx context.Context, e domain.Execution) error
	// ListExecutions orders by ExecutionTime descending.
	ListExecutions(ctx context.Context, taskID string, p ListExecutionsParams) ([]domain.Execution, error)
	CountExecutions(ctx context.Context, taskID string) (int, error)
	CountExecutionsByStatus(ctx context.Context, taskID string, status domain.ExecutionStatus) (int, error)
	// RecoverInterrupted fails RUNNING records started before the given
	// instant. It is meant for startup, after an unclean exit.
	RecoverInterrupted(ctx context.Context, before time.Time) (int, error)
}

type Store interface {
	TaskStore
	HistoryStore
	Ping(ctx context.Context) error
	Close() error
}

// InterruptedMessage is written to executions failed by RecoverInterrupted.
const InterruptedMessage = "interrupted: process exited before the attempt finished"

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns s into a LIKE pattern that matches it as a
// literal substring, with backslash as the escape character.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
