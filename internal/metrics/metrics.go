// Package metrics exposes Prometheus collectors for the engine, poller
// and management API. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskscheduler"

type Metrics struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	activeWorkers   prometheus.Gauge
	overload        *prometheus.CounterVec
	abandoned       prometheus.Counter
	polls           prometheus.Counter
	submitted       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Task execution attempts by task type and outcome.",
		}, []string{"type", "status"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Handler run time in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Attempts waiting for a worker.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Attempts currently running.",
		}),
		overload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overload_total",
			Help:      "Submissions that found the queue full, by policy applied.",
		}, []string{"policy"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_total",
			Help:      "Queued attempts dropped by a forced shutdown.",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Completed poll cycles.",
		}),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_submissions_total",
			Help:      "Due tasks handed to the engine by the poller.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(
		m.attempts, m.attemptDuration, m.queueDepth, m.activeWorkers, m.overload,
		m.abandoned, m.polls, m.submitted, m.httpRequests, m.httpDuration,
	)
	return m
}

func (m *Metrics) ObserveAttempt(taskType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(taskType, status).Inc()
	m.attemptDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetActiveWorkers(n int) {
	if m == nil {
		return
	}
	m.activeWorkers.Set(float64(n))
}

func (m *Metrics) Overload(policy string) {
	if m == nil {
		return
	}
	m.overload.WithLabelValues(policy).Inc()
}

func (m *Metrics) Abandoned(n int) {
	if m == nil {
		return
	}
	m.abandoned.Add(float64(n))
}

func (m *Metrics) PollCompleted(submitted, failed int) {
	if m == nil {
		return
	}
	m.polls.Inc()
	m.submitted.WithLabelValues("ok").Add(float64(submitted))
	m.submitted.WithLabelValues("error").Add(float64(failed))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latencies keyed by chi route
// pattern, so ids in the path do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
