package engine

import (
	"context"
	"time"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
)

// Result is the outcome of one attempt.
type Result struct {
	TaskID      string
	ExecutionID string // empty if the RUNNING record could not be written
	Handler     string
	Status      domain.ExecutionStatus
	StartedAt   time.Time
	// Err is the handler or resolution error for a FAILED attempt.
	Err      error
	Duration time.Duration
	// NextExecutionTime is zero when the task could not be updated.
	NextExecutionTime time.Time
}

// Handle lets a submitter wait for an attempt.
type Handle struct {
	TaskID string

	done chan struct{}
	res  Result
	err  error
}

func newHandle(taskID string) *Handle {
	return &Handle{TaskID: taskID, done: make(chan struct{})}
}

func (h *Handle) resolve(res Result, err error) {
	h.res = res
	h.err = err
	close(h.done)
}

// Done is closed once the attempt has finished or been abandoned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the attempt finishes or ctx ends. The error is
// ErrAbandoned for attempts dropped at shutdown and ctx.Err() on
// cancellation; handler failures are reported in Result.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.res, h.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
