// Package events publishes execution outcomes for outside consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Execution describes one finished attempt.
type Execution struct {
	ExecutionID       string    `json:"execution_id"`
	TaskID            string    `json:"task_id"`
	TaskType          string    `json:"task_type"`
	Handler           string    `json:"handler,omitempty"`
	Status            string    `json:"status"`
	Error             string    `json:"error,omitempty"`
	DurationMs        int64     `json:"duration_ms"`
	ExecutionTime     time.Time `json:"execution_time"`
	NextExecutionTime time.Time `json:"next_execution_time,omitempty"`
}

type Publisher interface {
	PublishExecution(ctx context.Context, e Execution) error
	Close()
}

type Nop struct{}

func (Nop) PublishExecution(context.Context, Execution) error { return nil }
func (Nop) Close()                                            {}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// NATS publishes each outcome on "<prefix>.<status>", e.g.
// "taskscheduler.executions.failed".
type NATS struct {
	nc     *nats.Conn
	prefix string
}

func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "taskscheduler.executions"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("taskscheduler"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

func (p *NATS) Subject(status string) string {
	return p.prefix + "." + strings.ToLower(status)
}

func (p *NATS) PublishExecution(ctx context.Context, e Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.Subject(e.Status))
	msg.Data = data
	msg.Header.Set("Task-Id", e.TaskID)
	msg.Header.Set("Execution-Id", e.ExecutionID)
	return p.nc.PublishMsg(msg)
}

func (p *NATS) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*NATS)(nil)
)
