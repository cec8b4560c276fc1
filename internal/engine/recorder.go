package engine

import (
	"context"
	"time"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/store"
)

// Recorder writes the history record of an attempt: RUNNING when it
// starts, then exactly one terminal update.
type Recorder struct {
	history store.HistoryStore
}

func NewRecorder(history store.HistoryStore) *Recorder {
	return &Recorder{history: history}
}

func (r *Recorder) Start(ctx context.Context, taskID string, at time.Time) (domain.Execution, error) {
	return r.history.InsertExecution(ctx, domain.Execution{
		TaskID:        taskID,
		ExecutionTime: at,
		Status:        domain.ExecutionRunning,
		CreatedAt:     at,
	})
}

// Finish marks exec SUCCESS when runErr is nil and FAILED otherwise.
func (r *Recorder) Finish(ctx context.Context, exec domain.Execution, runErr error, took time.Duration) (domain.Execution, error) {
	ms := took.Milliseconds()
	exec.ExecutionDurationMs = &ms
	if runErr == nil {
		exec.Status = domain.ExecutionSuccess
		exec.ErrorMessage = ""
	} else {
		exec.Status = domain.ExecutionFailed
		exec.ErrorMessage = errorMessage(runErr)
	}
	return exec, r.history.UpdateExecution(ctx, exec)
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}
