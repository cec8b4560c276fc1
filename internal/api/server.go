package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/cronspec"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/engine"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/metrics"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/store"
)

// StatsProvider is satisfied by *engine.Engine.
type StatsProvider interface {
	Stats() engine.Stats
}

type Options struct {
	Debug    bool
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

type Server struct {
	r     *chi.Mux
	store store.Store
	stats StatsProvider
	clock clock.Clock
}

func NewServer(st store.Store, stats StatsProvider) http.Handler {
	return NewServerWithOptions(st, stats, Options{})
}

func NewServerWithOptions(st store.Store, stats StatsProvider, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(opts.Metrics.Middleware)

	s := &Server{r: r, store: st, stats: stats, clock: opts.Clock}
	if s.clock == nil {
		s.clock = clock.New()
	}

	r.Get("/health", s.health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/tasks", func(r chi.Router) {
		r.Post("/", s.createTask)
		r.Get("/", s.listTasks)
		r.Get("/status/{status}", s.tasksByStatus)
		r.Get("/executor/stats", s.executorStats)
		r.Get("/{id}", s.getTask)
		r.Put("/{id}", s.updateTask)
		r.Delete("/{id}", s.deleteTask)
		r.Patch("/{id}/pause", s.pauseTask)
		r.Patch("/{id}/resume", s.resumeTask)
		r.Get("/{id}/history", s.taskHistory)
		r.Get("/{id}/history/summary", s.historySummary)
	})
	r.Get("/api/executor/stats", s.executorStats)

	// Debug routes (pprof)
	if opts.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type taskResp struct {
	domain.Task
	CronDescription string `json:"cronDescription"`
}

func toResp(t domain.Task) taskResp {
	return taskResp{Task: t, CronDescription: cronspec.Describe(t.CronExpression)}
}

func toResps(ts []domain.Task) []taskResp {
	out := make([]taskResp, 0, len(ts))
	for _, t := range ts {
		out = append(out, toResp(t))
	}
	return out
}

type createTaskReq struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	CronExpression string          `json:"cronExpression"`
	TaskType       string          `json:"taskType"`
	Priority       string          `json:"priority"`
	MaxRetries     *int            `json:"maxRetries"`
	Payload        json.RawMessage `json:"payload"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", 400)
		return
	}
	if strings.TrimSpace(req.CronExpression) == "" {
		http.Error(w, "cronExpression is required", 400)
		return
	}
	if strings.TrimSpace(req.TaskType) == "" {
		http.Error(w, "taskType is required", 400)
		return
	}
	if _, err := cronspec.Parse(req.CronExpression); err != nil {
		http.Error(w, "invalid cron expression: "+err.Error(), 400)
		return
	}

	task := domain.Task{
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		TaskType:       req.TaskType,
		Payload:        req.Payload,
	}
	if req.Priority != "" {
		p, ok := domain.ParsePriority(req.Priority)
		if !ok {
			http.Error(w, "priority must be HIGH, MEDIUM or LOW", 400)
			return
		}
		task.Priority = p
	}
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			http.Error(w, "maxRetries must be >= 0", 400)
			return
		}
		task.MaxRetries = *req.MaxRetries
	}
	// First run one minute after creation, independent of the cron.
	task.ApplyDefaults(s.clock.Now())

	saved, err := s.store.SaveTask(r.Context(), task)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	log.Info().Str("task_id", saved.ID).Str("task_name", saved.Name).Msg("task created")
	writeJSON(w, http.StatusCreated, toResp(saved))
}

type pageResp struct {
	Content       []taskResp `json:"content"`
	Page          int        `json:"page"`
	Size          int        `json:"size"`
	TotalElements int        `json:"totalElements"`
	TotalPages    int        `json:"totalPages"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 0)
	if err != nil || page < 0 {
		http.Error(w, "invalid page", 400)
		return
	}
	size, err := intParam(q.Get("size"), store.DefaultPageSize)
	if err != nil || size <= 0 || size > store.MaxPageSize {
		http.Error(w, "invalid size", 400)
		return
	}
	params := store.ListTasksParams{Name: q.Get("name"), Limit: size, Offset: page * size}
	if raw := q.Get("status"); raw != "" {
		st, ok := domain.ParseTaskStatus(raw)
		if !ok {
			http.Error(w, "status must be ACTIVE or PAUSED", 400)
			return
		}
		params.Status = st
	}

	tasks, total, err := s.store.ListTasks(r.Context(), params)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, pageResp{
		Content:       toResps(tasks),
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    (total + size - 1) / size,
	})
}

func (s *Server) tasksByStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := domain.ParseTaskStatus(chi.URLParam(r, "status"))
	if !ok {
		http.Error(w, "status must be ACTIVE or PAUSED", 400)
		return
	}
	var all []domain.Task
	for offset := 0; ; offset += store.MaxPageSize {
		tasks, total, err := s.store.ListTasks(r.Context(), store.ListTasksParams{
			Status: st, Limit: store.MaxPageSize, Offset: offset,
		})
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		all = append(all, tasks...)
		if len(tasks) == 0 || len(all) >= total {
			break
		}
	}
	writeJSON(w, 200, toResps(all))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, 200, toResp(t))
}

// loadTask writes the error response itself and reports whether t is usable.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (domain.Task, bool) {
	t, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", 404)
		return t, false
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return t, false
	}
	return t, true
}

type updateTaskReq struct {
	Name           *string         `json:"name"`
	Description    *string         `json:"description"`
	CronExpression *string         `json:"cronExpression"`
	Priority       *string         `json:"priority"`
	MaxRetries     *int            `json:"maxRetries"`
	Payload        json.RawMessage `json:"payload"`
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}

	var req updateTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			http.Error(w, "name must not be blank", 400)
			return
		}
		task.Name = *req.Name
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.CronExpression != nil {
		if _, err := cronspec.Parse(*req.CronExpression); err != nil {
			http.Error(w, "invalid cron expression: "+err.Error(), 400)
			return
		}
		task.CronExpression = *req.CronExpression
		task.NextExecutionTime = s.clock.Now().Add(domain.CreationDelay)
	}
	if req.Priority != nil {
		p, ok := domain.ParsePriority(*req.Priority)
		if !ok {
			http.Error(w, "priority must be HIGH, MEDIUM or LOW", 400)
			return
		}
		task.Priority = p
	}
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			http.Error(w, "maxRetries must be >= 0", 400)
			return
		}
		task.MaxRetries = *req.MaxRetries
	}
	if req.Payload != nil {
		task.Payload = req.Payload
	}

	saved, err := s.store.SaveTask(r.Context(), task)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, toResp(saved))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.DeleteTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	log.Info().Str("task_id", id).Msg("task deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pauseTask(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, domain.TaskPaused)
}

func (s *Server) resumeTask(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, domain.TaskActive)
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request, status domain.TaskStatus) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	task.Status = status
	saved, err := s.store.SaveTask(r.Context(), task)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	log.Info().Str("task_id", saved.ID).Str("status", string(status)).Msg("task status changed")
	writeJSON(w, 200, toResp(saved))
}

func (s *Server) requireTask(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	exists, err := s.store.TaskExists(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return id, false
	}
	if !exists {
		http.Error(w, "not found", 404)
		return id, false
	}
	return id, true
}

func (s *Server) taskHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireTask(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), store.DefaultPageSize)
	if err != nil || limit <= 0 || limit > store.MaxPageSize {
		http.Error(w, "invalid limit", 400)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		http.Error(w, "invalid offset", 400)
		return
	}
	execs, err := s.store.ListExecutions(r.Context(), id, store.ListExecutionsParams{Limit: limit, Offset: offset})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, 200, execs)
}

type summaryResp struct {
	TaskID  string `json:"taskId"`
	Total   int    `json:"total"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Running int    `json:"running"`
}

func (s *Server) historySummary(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireTask(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	resp := summaryResp{TaskID: id}
	var err error
	if resp.Total, err = s.store.CountExecutions(ctx, id); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	counts := []struct {
		status domain.ExecutionStatus
		dst    *int
	}{
		{domain.ExecutionSuccess, &resp.Success},
		{domain.ExecutionFailed, &resp.Failed},
		{domain.ExecutionRunning, &resp.Running},
	}
	for _, c := range counts {
		if *c.dst, err = s.store.CountExecutionsByStatus(ctx, id, c.status); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
	}
	writeJSON(w, 200, resp)
}

func (s *Server) executorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.stats.Stats())
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
