package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
)

type step struct {
	msg string
	d   time.Duration
}

// Simulated walks through a fixed list of timed steps. Pace scales every
// delay; zero makes the handler return immediately.
type Simulated struct {
	name  string
	types []string
	steps []step
	pace  float64
	all   bool
}

func (s *Simulated) Name() string { return s.name }

func (s *Simulated) Supports(task domain.Task) bool {
	return s.all || matchesType(task.TaskType, s.types)
}

func (s *Simulated) Execute(ctx context.Context, task domain.Task) error {
	log.Info().Str("handler", s.name).Str("task_id", task.ID).Str("task_name", task.Name).Msg("executing task")
	for _, st := range s.steps {
		log.Debug().Str("handler", s.name).Str("task_id", task.ID).Msg(st.msg)
		if err := sleepCtx(ctx, time.Duration(float64(st.d)*s.pace)); err != nil {
			return fmt.Errorf("%s: interrupted while %s: %w", s.name, st.msg, err)
		}
	}
	log.Info().Str("handler", s.name).Str("task_id", task.ID).Msg("task completed")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func NewEmail(pace float64) *Simulated {
	return &Simulated{name: "EMAIL", types: []string{"EMAIL"}, pace: pace, steps: []step{
		{"preparing email template", 300 * time.Millisecond},
		{"connecting to SMTP server", 200 * time.Millisecond},
		{"sending email to recipients", 500 * time.Millisecond},
	}}
}

func NewReport(pace float64) *Simulated {
	return &Simulated{name: "REPORT", types: []string{"REPORT"}, pace: pace, steps: []step{
		{"fetching data", 500 * time.Millisecond},
		{"calculating metrics", 800 * time.Millisecond},
		{"rendering report", 700 * time.Millisecond},
	}}
}

func NewCleanup(pace float64) *Simulated {
	return &Simulated{name: "CLEANUP", types: []string{"CLEANUP"}, pace: pace, steps: []step{
		{"scanning for old log files", 400 * time.Millisecond},
		{"deleting files older than 30 days", 600 * time.Millisecond},
		{"compressing archived data", 500 * time.Millisecond},
	}}
}

// NewDefault is the catch-all; it supports every task.
func NewDefault(pace float64) *Simulated {
	return &Simulated{name: "DEFAULT", all: true, pace: pace, steps: []step{
		{"processing generic task", time.Second},
	}}
}

// Probe is a named dependency check run by the health check handler.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthCheck struct {
	sim    *Simulated
	probes []Probe
}

func NewHealthCheck(pace float64, probes ...Probe) *HealthCheck {
	return &HealthCheck{
		sim: &Simulated{name: "HEALTH_CHECK", types: []string{"HEALTH_CHECK"}, pace: pace, steps: []step{
			{"checking API endpoints", 150 * time.Millisecond},
			{"verifying disk space", 150 * time.Millisecond},
		}},
		probes: probes,
	}
}

func (h *HealthCheck) Name() string { return h.sim.Name() }

func (h *HealthCheck) Supports(task domain.Task) bool { return h.sim.Supports(task) }

func (h *HealthCheck) Execute(ctx context.Context, task domain.Task) error {
	for _, p := range h.probes {
		if err := p.Check(ctx); err != nil {
			return fmt.Errorf("health check %s failed: %w", p.Name, err)
		}
		log.Debug().Str("handler", h.Name()).Str("probe", p.Name).Msg("probe ok")
	}
	return h.sim.Execute(ctx, task)
}

var (
	_ Handler = (*Simulated)(nil)
	_ Handler = (*HealthCheck)(nil)
)
