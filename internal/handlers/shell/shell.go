package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
)

const TaskType = "SHELL"

// Shell runs the command described by a task's payload. When Allowed
// is non-empty, only those executables may be started.
type Shell struct {
	Allowed []string
}

type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Dir     string   `json:"dir"`
}

func (h Shell) Name() string { return TaskType }

func (h Shell) Supports(task domain.Task) bool { return strings.EqualFold(task.TaskType, TaskType) }

func (h Shell) Execute(ctx context.Context, task domain.Task) error {
	var c Cmd
	if len(task.Payload) == 0 {
		return fmt.Errorf("shell task %s has no payload", task.ID)
	}
	if err := json.Unmarshal(task.Payload, &c); err != nil {
		return fmt.Errorf("invalid shell payload: %w", err)
	}
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	if !h.allowed(c.Command) {
		return fmt.Errorf("command %q is not allowed", c.Command)
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("shell error: %v; out=%s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (h Shell) allowed(command string) bool {
	if len(h.Allowed) == 0 {
		return true
	}
	for _, a := range h.Allowed {
		if a == command {
			return true
		}
	}
	return false
}
