// Package scheduler polls the task store for due tasks and hands them to
// the execution engine.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/engine"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/metrics"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/store"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultInitialDelay = 10 * time.Second
)

// Submitter accepts a task for asynchronous execution.
type Submitter interface {
	Submit(task domain.Task) (*engine.Handle, error)
}

type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

type Poller struct {
	tasks     store.TaskStore
	submitter Submitter
	clock     clock.Clock
	metrics   *metrics.Metrics
	interval  time.Duration
	delay     time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool

	cycles atomic.Int64
}

type Option func(*Poller)

func WithClock(c clock.Clock) Option { return func(p *Poller) { p.clock = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Poller) { p.metrics = m } }

func NewPoller(cfg Config, tasks store.TaskStore, submitter Submitter, opts ...Option) *Poller {
	p := &Poller{
		tasks:     tasks,
		submitter: submitter,
		clock:     clock.New(),
		interval:  cfg.Interval,
		delay:     cfg.InitialDelay,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.delay <= 0 {
		p.delay = DefaultInitialDelay
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start arms the first poll after the initial delay and returns. Polls
// are spaced by the interval measured from the end of the previous one.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	timer := p.clock.Timer(p.delay)
	log.Info().Dur("interval", p.interval).Dur("initial_delay", p.delay).Msg("poller started")

	go func() {
		defer close(p.done)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-timer.C:
				p.PollOnce(ctx)
				timer.Reset(p.interval)
			}
		}
	}()
}

// Stop ends the loop and waits for an in-progress poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	started := p.started
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	p.mu.Unlock()
	if started {
		<-p.done
	}
	log.Info().Int64("cycles", p.cycles.Load()).Msg("poller stopped")
}

// PollOnce submits every due task and returns how many were accepted.
// A failed submission is logged and the rest of the cycle continues.
func (p *Poller) PollOnce(ctx context.Context) int {
	defer p.cycles.Add(1)

	now := p.clock.Now()
	due, err := p.tasks.DueTasks(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to get due tasks")
		p.metrics.PollCompleted(0, 0)
		return 0
	}
	if len(due) == 0 {
		log.Debug().Time("now", now).Msg("no due tasks")
		p.metrics.PollCompleted(0, 0)
		return 0
	}

	submitted, failed := 0, 0
	for _, task := range due {
		if _, err := p.submitter.Submit(task); err != nil {
			failed++
			log.Error().Err(err).Str("task_id", task.ID).Str("task_name", task.Name).Msg("failed to submit task")
			continue
		}
		submitted++
		log.Debug().Str("task_id", task.ID).Str("priority", string(task.Priority)).
			Time("next_execution_time", task.NextExecutionTime).Msg("task submitted")
	}
	log.Info().Int("due", len(due)).Int("submitted", submitted).Int("failed", failed).Msg("poll cycle finished")
	p.metrics.PollCompleted(submitted, failed)
	return submitted
}

// Cycles reports how many polls have completed.
func (p *Poller) Cycles() int64 { return p.cycles.Load() }
