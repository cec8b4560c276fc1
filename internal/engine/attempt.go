package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/cronspec"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/events"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/handlers"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/store"
)

// execute runs one attempt end to end. Nothing it encounters escapes:
// failures end up in the history record, the log and the Result.
func (e *Engine) execute(ctx context.Context, task domain.Task) Result {
	// Bookkeeping must land even when a forced shutdown cancels ctx.
	bg := context.WithoutCancel(ctx)
	res := Result{TaskID: task.ID, StartedAt: e.clock.Now()}

	log.Info().Str("task_id", task.ID).Str("task_name", task.Name).Str("task_type", task.TaskType).
		Msg("starting attempt")

	exec, recErr := e.recorder.Start(bg, task.ID, res.StartedAt)
	var runErr error
	if recErr != nil {
		runErr = fmt.Errorf("record attempt start: %w", recErr)
	} else {
		res.ExecutionID = exec.ID
		var h handlers.Handler
		if h, runErr = e.resolver.Resolve(task); runErr == nil {
			res.Handler = h.Name()
			begin := time.Now()
			runErr = invoke(ctx, h, task)
			res.Duration = time.Since(begin)
		}
		if _, err := e.recorder.Finish(bg, exec, runErr, res.Duration); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Str("execution_id", exec.ID).
				Msg("failed to record attempt outcome")
		}
	}

	res.Err = runErr
	res.Status = domain.ExecutionSuccess
	if runErr != nil {
		res.Status = domain.ExecutionFailed
	}

	next, err := e.reschedule(bg, task.ID, runErr == nil)
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to update task after attempt")
	} else {
		res.NextExecutionTime = next
	}

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Str("task_id", task.ID).
		Str("execution_id", res.ExecutionID).
		Str("handler", res.Handler).
		Str("status", string(res.Status)).
		Int64("duration_ms", res.Duration.Milliseconds()).
		Time("next_execution_time", res.NextExecutionTime).
		Msg("attempt finished")

	e.metrics.ObserveAttempt(task.TaskType, string(res.Status), res.Duration)
	e.publish(bg, task, res)
	return res
}

func invoke(ctx context.Context, h handlers.Handler, task domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.Name(), r)
		}
	}()
	return h.Execute(ctx, task)
}

// reschedule re-reads the task and stamps the attempt on it. The status
// field is left alone so a pause issued mid-attempt survives.
func (e *Engine) reschedule(ctx context.Context, taskID string, succeeded bool) (time.Time, error) {
	task, err := e.tasks.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, fmt.Errorf("task %s was deleted during the attempt: %w", taskID, err)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reload task %s: %w", taskID, err)
	}

	now := e.clock.Now()
	task.LastExecutionTime = &now
	switch {
	case succeeded:
		task.RetryCount = 0
	case e.cfg.TrackRetries:
		task.RetryCount++
	}

	next, err := cronspec.NextAfter(task.CronExpression, now)
	if err != nil {
		next = now.Add(e.cfg.FallbackDelay)
		log.Warn().Err(err).Str("task_id", taskID).Str("cron_expression", task.CronExpression).
			Time("fallback", next).Msg("could not compute next execution time")
	}
	task.NextExecutionTime = next

	if _, err := e.tasks.SaveTask(ctx, task); err != nil {
		return time.Time{}, fmt.Errorf("save task %s: %w", taskID, err)
	}
	return next, nil
}

func (e *Engine) publish(ctx context.Context, task domain.Task, res Result) {
	ev := events.Execution{
		ExecutionID:       res.ExecutionID,
		TaskID:            task.ID,
		TaskType:          task.TaskType,
		Handler:           res.Handler,
		Status:            string(res.Status),
		DurationMs:        res.Duration.Milliseconds(),
		ExecutionTime:     res.StartedAt,
		NextExecutionTime: res.NextExecutionTime,
	}
	if res.Err != nil {
		ev.Error = errorMessage(res.Err)
	}
	if err := e.events.PublishExecution(ctx, ev); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to publish execution event")
	}
}
