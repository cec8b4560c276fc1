package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
)

const TaskType = "HTTP"

// HTTP performs the request described by a task's payload and fails on
// transport errors or 4xx/5xx responses.
type HTTP struct {
	Client *http.Client
}

type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
	Timeout int               `json:"timeout"` // seconds
}

func (h HTTP) Name() string { return TaskType }

func (h HTTP) Supports(task domain.Task) bool { return strings.EqualFold(task.TaskType, TaskType) }

func (h HTTP) Execute(ctx context.Context, task domain.Task) error {
	var req Request
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		return fmt.Errorf("invalid HTTP request payload: %w", err)
	}

	if req.URL == "" {
		return fmt.Errorf("URL is required")
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Timeout <= 0 {
		req.Timeout = 30
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	httpReq.Header.Set("X-Task-ID", task.ID)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d error: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
