package shell

import (
	"context"
	"os/exec"
	"testing"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
)

func TestShellRunsCommand(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	task := domain.Task{ID: "t1", TaskType: "shell", Payload: []byte(`{"command":"true"}`)}
	h := Shell{}
	if !h.Supports(task) {
		t.Fatalf("expected shell to support %q", task.TaskType)
	}
	if err := h.Execute(context.Background(), task); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestShellFailures(t *testing.T) {
	cases := []struct {
		name    string
		h       Shell
		payload string
	}{
		{"no payload", Shell{}, ""},
		{"bad json", Shell{}, `{`},
		{"missing command", Shell{}, `{"args":["x"]}`},
		{"not allowed", Shell{Allowed: []string{"echo"}}, `{"command":"rm"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := domain.Task{ID: "t1", TaskType: TaskType, Payload: []byte(tc.payload)}
			if err := tc.h.Execute(context.Background(), task); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
