// Package engine runs task attempts on a fixed pool of workers, records
// each attempt and moves the task to its next cron firing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/events"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/handlers"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/metrics"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/store"
)

var (
	ErrEngineNotStarted = errors.New("engine not started")
	ErrEngineStopped    = errors.New("engine stopped")
	ErrQueueFull        = errors.New("engine queue full")
	ErrOverlapSkip      = errors.New("task already queued or running")
	ErrAbandoned        = errors.New("attempt abandoned at shutdown")
	ErrShutdownTimeout  = errors.New("shutdown timed out")
)

type OverloadPolicy string

const (
	// CallerRuns executes the attempt synchronously in Submit when the
	// queue is full.
	CallerRuns OverloadPolicy = "caller-runs"
	Reject     OverloadPolicy = "reject"
)

type OverlapPolicy string

const (
	// AllowOverlap lets a task be dispatched again while an earlier
	// attempt is still queued or running.
	AllowOverlap  OverlapPolicy = "allow"
	SkipIfRunning OverlapPolicy = "skip-if-running"
)

const (
	DefaultPoolSize      = 10
	DefaultQueueSize     = 1024
	DefaultFallbackDelay = time.Hour
)

type Config struct {
	PoolSize  int
	QueueSize int
	Overload  OverloadPolicy
	Overlap   OverlapPolicy
	// TrackRetries increments RetryCount on failed attempts. It is
	// bookkeeping only and never changes when a task runs next.
	TrackRetries bool
	// FallbackDelay is used when the next cron firing cannot be computed.
	FallbackDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Overload == "" {
		c.Overload = CallerRuns
	}
	if c.Overlap == "" {
		c.Overlap = AllowOverlap
	}
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = DefaultFallbackDelay
	}
	return c
}

// Resolver picks the handler for a task.
type Resolver interface {
	Resolve(task domain.Task) (handlers.Handler, error)
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.events = p } }

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

type job struct {
	task   domain.Task
	handle *Handle
}

type Engine struct {
	cfg      Config
	tasks    store.TaskStore
	recorder *Recorder
	resolver Resolver
	clock    clock.Clock
	metrics  *metrics.Metrics
	events   events.Publisher

	mu     sync.RWMutex
	state  state
	queue  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// stopped is closed once the first Shutdown has drained; shutdownErr
	// is its result.
	stopped     chan struct{}
	shutdownErr error

	inflight  sync.Map // task id -> struct{}, used by SkipIfRunning
	active    atomic.Int64
	completed atomic.Int64

	overloadLog rate.Sometimes
}

func New(cfg Config, tasks store.TaskStore, history store.HistoryStore, resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg.withDefaults(),
		tasks:       tasks,
		recorder:    NewRecorder(history),
		resolver:    resolver,
		clock:       clock.New(),
		events:      events.Nop{},
		overloadLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start launches the workers. It may be called once.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateNew {
		return fmt.Errorf("engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.queue = make(chan *job, e.cfg.QueueSize)
	for i := 0; i < e.cfg.PoolSize; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.state = stateRunning
	log.Info().
		Int("pool_size", e.cfg.PoolSize).
		Int("queue_size", e.cfg.QueueSize).
		Str("overload_policy", string(e.cfg.Overload)).
		Str("overlap_policy", string(e.cfg.Overlap)).
		Msg("execution engine started")
	return nil
}

// Submit queues one attempt of task and returns without waiting for it,
// except under CallerRuns when the queue is full.
func (e *Engine) Submit(task domain.Task) (*Handle, error) {
	e.mu.RLock()
	switch e.state {
	case stateNew:
		e.mu.RUnlock()
		return nil, ErrEngineNotStarted
	case stateStopped:
		e.mu.RUnlock()
		return nil, ErrEngineStopped
	}

	if e.cfg.Overlap == SkipIfRunning {
		if _, busy := e.inflight.LoadOrStore(task.ID, struct{}{}); busy {
			e.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", ErrOverlapSkip, task.ID)
		}
	}

	j := &job{task: task, handle: newHandle(task.ID)}
	select {
	case e.queue <- j:
		e.mu.RUnlock()
		e.metrics.SetQueueDepth(len(e.queue))
		return j.handle, nil
	default:
	}

	if e.cfg.Overload == Reject {
		e.mu.RUnlock()
		e.release(task.ID)
		e.metrics.Overload(string(Reject))
		return nil, fmt.Errorf("%w: %d attempts waiting", ErrQueueFull, e.cfg.QueueSize)
	}

	// Counted in the WaitGroup before the lock is released so a
	// concurrent Shutdown waits for it.
	e.wg.Add(1)
	e.mu.RUnlock()
	defer e.wg.Done()

	e.metrics.Overload(string(CallerRuns))
	e.overloadLog.Do(func() {
		log.Warn().Str("task_id", task.ID).Int("queue_size", e.cfg.QueueSize).
			Msg("engine queue full, running attempt on the submitting goroutine")
	})
	e.run(j)
	return j.handle, nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for j := range e.queue {
		e.metrics.SetQueueDepth(len(e.queue))
		if e.ctx.Err() != nil {
			e.abandon(j)
			continue
		}
		e.run(j)
	}
}

func (e *Engine) run(j *job) {
	e.metrics.SetActiveWorkers(int(e.active.Add(1)))
	res := e.execute(e.ctx, j.task)
	// Bookkeeping settles before the handle resolves so waiters observe it.
	e.release(j.task.ID)
	e.completed.Add(1)
	e.metrics.SetActiveWorkers(int(e.active.Add(-1)))
	j.handle.resolve(res, nil)
}

func (e *Engine) abandon(j *job) {
	e.release(j.task.ID)
	e.metrics.Abandoned(1)
	j.handle.resolve(Result{TaskID: j.task.ID}, ErrAbandoned)
}

func (e *Engine) release(taskID string) {
	if e.cfg.Overlap == SkipIfRunning {
		e.inflight.Delete(taskID)
	}
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	ActiveWorkers  int   `json:"activeWorkers"`
	PoolSize       int   `json:"poolSize"`
	QueueDepth     int   `json:"queueDepth"`
	CompletedCount int64 `json:"completedCount"`
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	q := e.queue
	e.mu.RUnlock()
	return Stats{
		ActiveWorkers:  int(e.active.Load()),
		PoolSize:       e.cfg.PoolSize,
		QueueDepth:     len(q),
		CompletedCount: e.completed.Load(),
	}
}

// Shutdown stops accepting work and waits up to timeout for queued and
// running attempts. After the timeout running handlers are cancelled,
// queued attempts are abandoned and ErrShutdownTimeout is returned.
// Later and concurrent calls wait for the first drain and return its
// result.
func (e *Engine) Shutdown(timeout time.Duration) error {
	e.mu.Lock()
	switch e.state {
	case stateNew:
		e.state = stateStopped
		e.mu.Unlock()
		return nil
	case stateStopped:
		stopped := e.stopped
		e.mu.Unlock()
		if stopped == nil {
			return nil
		}
		<-stopped
		return e.shutdownErr
	}
	e.state = stateStopped
	e.stopped = make(chan struct{})
	close(e.queue)
	e.mu.Unlock()

	e.shutdownErr = e.drain(timeout)
	close(e.stopped)
	return e.shutdownErr
}

func (e *Engine) drain(timeout time.Duration) error {
	log.Info().Dur("timeout", timeout).Int("queued", len(e.queue)).Msg("shutting down execution engine")

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		e.cancel()
		log.Info().Int64("completed", e.completed.Load()).Msg("execution engine stopped")
		return nil
	case <-t.C:
	}

	e.cancel()
	abandoned := 0
	for j := range e.queue {
		e.abandon(j)
		abandoned++
	}
	log.Warn().Int("abandoned", abandoned).Int64("running", e.active.Load()).
		Msg("engine did not drain in time, cancelled running attempts")
	return fmt.Errorf("%w after %s: %d queued attempts abandoned", ErrShutdownTimeout, timeout, abandoned)
}
