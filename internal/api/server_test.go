package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/engine"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/metrics"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/store"
)

var now = time.Date(2024, 5, 6, 8, 30, 0, 0, time.UTC)

type fixedStats engine.Stats

func (f fixedStats) Stats() engine.Stats { return engine.Stats(f) }

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	mock := clock.NewMock()
	mock.Set(now)
	reg := prometheus.NewRegistry()
	h := NewServerWithOptions(st, fixedStats{ActiveWorkers: 1, PoolSize: 10, QueueDepth: 2, CompletedCount: 7}, Options{
		Clock:    mock,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, st
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("content-type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}

func createTask(t *testing.T, srv *httptest.Server, body string) taskResp {
	t.Helper()
	resp := do(t, http.MethodPost, srv.URL+"/api/tasks", body)
	expectStatus(t, resp, http.StatusCreated)
	var got taskResp
	decode(t, resp, &got)
	return got
}

func TestCreateTaskAppliesDefaults(t *testing.T) {
	srv, _ := newTestServer(t)
	got := createTask(t, srv, `{"name":"digest","cronExpression":"0 */15 * * * ?","taskType":"EMAIL"}`)

	if got.ID == "" || got.Status != domain.TaskActive || got.Priority != domain.PriorityMedium || got.MaxRetries != 3 {
		t.Fatalf("unexpected task %+v", got.Task)
	}
	if !got.NextExecutionTime.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected first run one minute after creation, got %s", got.NextExecutionTime)
	}
	if got.RetryCount != 0 || got.LastExecutionTime != nil {
		t.Fatalf("new task should have no attempts %+v", got.Task)
	}
	if got.CronDescription != "Every 15 minutes" {
		t.Fatalf("unexpected description %q", got.CronDescription)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing name", `{"cronExpression":"0 * * * * ?","taskType":"EMAIL"}`},
		{"missing cron", `{"name":"x","taskType":"EMAIL"}`},
		{"missing type", `{"name":"x","cronExpression":"0 * * * * ?"}`},
		{"bad cron", `{"name":"x","cronExpression":"every day","taskType":"EMAIL"}`},
		{"bad priority", `{"name":"x","cronExpression":"0 * * * * ?","taskType":"EMAIL","priority":"URGENT"}`},
		{"negative retries", `{"name":"x","cronExpression":"0 * * * * ?","taskType":"EMAIL","maxRetries":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, do(t, http.MethodPost, srv.URL+"/api/tasks", tt.body), http.StatusBadRequest)
		})
	}
}

func TestGetUpdateDeleteTask(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createTask(t, srv, `{"name":"report","cronExpression":"0 0 9 * * ?","taskType":"REPORT","priority":"low"}`)
	url := srv.URL + "/api/tasks/" + created.ID

	resp := do(t, http.MethodGet, url, "")
	expectStatus(t, resp, http.StatusOK)
	var got taskResp
	decode(t, resp, &got)
	if got.Name != "report" || got.Priority != domain.PriorityLow {
		t.Fatalf("unexpected task %+v", got.Task)
	}

	resp = do(t, http.MethodPut, url, `{"name":"weekly report","cronExpression":"0 0 9 ? * MON","priority":"HIGH","maxRetries":5}`)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &got)
	if got.Name != "weekly report" || got.CronExpression != "0 0 9 ? * MON" || got.Priority != domain.PriorityHigh || got.MaxRetries != 5 {
		t.Fatalf("update not applied %+v", got.Task)
	}
	if got.TaskType != "REPORT" {
		t.Fatalf("task type must not change, got %s", got.TaskType)
	}

	expectStatus(t, do(t, http.MethodPut, url, `{"cronExpression":"nope"}`), http.StatusBadRequest)

	expectStatus(t, do(t, http.MethodDelete, url, ""), http.StatusNoContent)
	expectStatus(t, do(t, http.MethodGet, url, ""), http.StatusNotFound)
	expectStatus(t, do(t, http.MethodDelete, url, ""), http.StatusNotFound)
	expectStatus(t, do(t, http.MethodPut, url, `{}`), http.StatusNotFound)
}

func TestPauseAndResume(t *testing.T) {
	srv, st := newTestServer(t)
	created := createTask(t, srv, `{"name":"cleanup","cronExpression":"0 0 2 * * ?","taskType":"CLEANUP"}`)
	url := srv.URL + "/api/tasks/" + created.ID

	var got taskResp
	resp := do(t, http.MethodPatch, url+"/pause", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &got)
	if got.Status != domain.TaskPaused {
		t.Fatalf("expected PAUSED, got %s", got.Status)
	}

	due, err := st.DueTasks(context.Background(), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("paused task must not be due")
	}

	resp = do(t, http.MethodPatch, url+"/resume", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &got)
	if got.Status != domain.TaskActive {
		t.Fatalf("expected ACTIVE, got %s", got.Status)
	}
	expectStatus(t, do(t, http.MethodPatch, srv.URL+"/api/tasks/missing/pause", ""), http.StatusNotFound)
}

func TestListTasks(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		createTask(t, srv, `{"name":"`+name+`","cronExpression":"0 0 * * * ?","taskType":"EMAIL"}`)
	}
	paused := createTask(t, srv, `{"name":"delta","cronExpression":"0 0 * * * ?","taskType":"EMAIL"}`)
	expectStatus(t, do(t, http.MethodPatch, srv.URL+"/api/tasks/"+paused.ID+"/pause", ""), http.StatusOK)

	var page pageResp
	resp := do(t, http.MethodGet, srv.URL+"/api/tasks?page=0&size=3", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &page)
	if page.TotalElements != 4 || page.TotalPages != 2 || len(page.Content) != 3 {
		t.Fatalf("unexpected page %+v", page)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/tasks?status=PAUSED", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &page)
	if page.TotalElements != 1 || page.Content[0].ID != paused.ID {
		t.Fatalf("unexpected filtered page %+v", page)
	}

	var byStatus []taskResp
	resp = do(t, http.MethodGet, srv.URL+"/api/tasks/status/ACTIVE", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &byStatus)
	if len(byStatus) != 3 {
		t.Fatalf("expected 3 active tasks, got %d", len(byStatus))
	}

	expectStatus(t, do(t, http.MethodGet, srv.URL+"/api/tasks/status/RUNNING", ""), http.StatusBadRequest)
	expectStatus(t, do(t, http.MethodGet, srv.URL+"/api/tasks?size=0", ""), http.StatusBadRequest)
	expectStatus(t, do(t, http.MethodGet, srv.URL+"/api/tasks?page=-1", ""), http.StatusBadRequest)
}

func TestHistoryAndSummary(t *testing.T) {
	srv, st := newTestServer(t)
	created := createTask(t, srv, `{"name":"digest","cronExpression":"0 */15 * * * ?","taskType":"EMAIL"}`)
	ctx := context.Background()

	statuses := []domain.ExecutionStatus{domain.ExecutionSuccess, domain.ExecutionFailed, domain.ExecutionSuccess, domain.ExecutionRunning}
	for i, s := range statuses {
		e, err := st.InsertExecution(ctx, domain.Execution{
			TaskID:        created.ID,
			ExecutionTime: now.Add(time.Duration(i) * time.Minute),
			Status:        domain.ExecutionRunning,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if s != domain.ExecutionRunning {
			e.Status = s
			if err := st.UpdateExecution(ctx, e); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
	}

	var hist []domain.Execution
	resp := do(t, http.MethodGet, srv.URL+"/api/tasks/"+created.ID+"/history?limit=2", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &hist)
	if len(hist) != 2 || !hist[0].ExecutionTime.Equal(now.Add(3*time.Minute)) {
		t.Fatalf("expected newest first, got %+v", hist)
	}

	var sum summaryResp
	resp = do(t, http.MethodGet, srv.URL+"/api/tasks/"+created.ID+"/history/summary", "")
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &sum)
	if sum.Total != 4 || sum.Success != 2 || sum.Failed != 1 || sum.Running != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	expectStatus(t, do(t, http.MethodGet, srv.URL+"/api/tasks/missing/history", ""), http.StatusNotFound)
	expectStatus(t, do(t, http.MethodGet, srv.URL+"/api/tasks/"+created.ID+"/history?limit=abc", ""), http.StatusBadRequest)
}

func TestExecutorStats(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/api/executor/stats", "/api/tasks/executor/stats"} {
		resp := do(t, http.MethodGet, srv.URL+path, "")
		expectStatus(t, resp, http.StatusOK)
		var got map[string]int
		decode(t, resp, &got)
		if got["activeWorkers"] != 1 || got["poolSize"] != 10 || got["queueDepth"] != 2 || got["completedCount"] != 7 {
			t.Fatalf("%s: unexpected stats %v", path, got)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	expectStatus(t, do(t, http.MethodGet, srv.URL+"/health", ""), http.StatusOK)

	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	expectStatus(t, resp, http.StatusOK)
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), `taskscheduler_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Fatalf("request metrics missing:\n%s", buf.String())
	}
}

func TestServerWithDefaults(t *testing.T) {
	st := store.NewMemory()
	srv := httptest.NewServer(NewServer(st, fixedStats{PoolSize: 4}))
	t.Cleanup(srv.Close)

	expectStatus(t, do(t, http.MethodGet, srv.URL+"/health", ""), http.StatusOK)
	expectStatus(t, do(t, http.MethodGet, srv.URL+"/metrics", ""), http.StatusNotFound)
	expectStatus(t, do(t, http.MethodGet, srv.URL+"/debug/pprof/", ""), http.StatusNotFound)

	before := time.Now()
	got := createTask(t, srv, `{"name":"digest","cronExpression":"0 */15 * * * ?","taskType":"EMAIL"}`)
	if got.NextExecutionTime.Before(before.Add(time.Minute).Add(-time.Second)) {
		t.Fatalf("expected first run about a minute from now, got %s", got.NextExecutionTime)
	}
	if ok, _ := st.TaskExists(context.Background(), got.ID); !ok {
		t.Fatalf("task not stored")
	}
}
