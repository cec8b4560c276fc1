package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Rank orders priorities for dispatch. Higher runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	return p, p.Valid()
}

type TaskStatus string

const (
	TaskActive TaskStatus = "ACTIVE"
	TaskPaused TaskStatus = "PAUSED"
)

func (s TaskStatus) Valid() bool { return s == TaskActive || s == TaskPaused }

func ParseTaskStatus(s string) (TaskStatus, bool) {
	st := TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
)


const (
	DefaultMaxRetries = 3
	// CreationDelay is how far after creation a new task first becomes due.
	CreationDelay = time.Minute
)

type Task struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	CronExpression    string          `json:"cronExpression"`
	TaskType          string          `json:"taskType"`
	Priority          Priority        `json:"priority"`
	Status            TaskStatus      `json:"status"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	RetryCount        int             `json:"retryCount"`
	MaxRetries        int             `json:"maxRetries"`
	NextExecutionTime time.Time       `json:"nextExecutionTime"`
	LastExecutionTime *time.Time      `json:"lastExecutionTime,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// ApplyDefaults fills the fields a freshly created task starts with.
func (t *Task) ApplyDefaults(now time.Time) {
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = TaskActive
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.NextExecutionTime.IsZero() {
		t.NextExecutionTime = now.Add(CreationDelay)
	}
}

// Execution is one recorded attempt at running a task.
type Execution struct {
	ID                  string          `json:"id"`
	TaskID              string          `json:"taskId"`
	ExecutionTime       time.Time       `json:"executionTime"`
	Status              ExecutionStatus `json:"status"`
	ErrorMessage        string          `json:"errorMessage,omitempty"`
	ExecutionDurationMs *int64          `json:"executionDurationMs,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}
