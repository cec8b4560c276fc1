package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/domain"
)

var ErrNoHandlerFound = errors.New("no handler found")

// Handler runs one kind of task. Implementations must be safe for
// concurrent use and must not modify the task they are given.
type Handler interface {
	Name() string
	Supports(task domain.Task) bool
	Execute(ctx context.Context, task domain.Task) error
}

type funcHandler struct {
	name  string
	types []string
	fn    func(ctx context.Context, task domain.Task) error
}

// ForTypes adapts fn into a Handler claiming the given task types,
// compared case-insensitively.
func ForTypes(name string, types []string, fn func(ctx context.Context, task domain.Task) error) Handler {
	return &funcHandler{name: name, types: types, fn: fn}
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Supports(task domain.Task) bool { return matchesType(task.TaskType, h.types) }

func (h *funcHandler) Execute(ctx context.Context, task domain.Task) error { return h.fn(ctx, task) }

func matchesType(taskType string, types []string) bool {
	for _, t := range types {
		if strings.EqualFold(taskType, t) {
			return true
		}
	}
	return false
}

// Registry resolves a task to the first registered handler that
// supports it, falling back to a catch-all.
type Registry struct {
	mu       sync.RWMutex
	ordered  []Handler
	names    map[string]struct{}
	fallback Handler
}

// NewRegistry creates a registry whose catch-all is fallback. A nil
// fallback makes Resolve fail for unclaimed task types.
func NewRegistry(fallback Handler) *Registry {
	return &Registry{names: make(map[string]struct{}), fallback: fallback}
}

// Register appends h. Handlers are consulted in registration order.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToUpper(h.Name())
	if _, exists := r.names[name]; exists {
		return fmt.Errorf("handler %s already registered", h.Name())
	}
	r.names[name] = struct{}{}
	r.ordered = append(r.ordered, h)
	return nil
}

func (r *Registry) Resolve(task domain.Task) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.ordered {
		if h.Supports(task) {
			return h, nil
		}
	}
	if r.fallback != nil && r.fallback.Supports(task) {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w for task type %q", ErrNoHandlerFound, task.TaskType)
}

// Names lists registered handlers in resolution order, catch-all last.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.ordered)+1)
	for _, h := range r.ordered {
		out = append(out, h.Name())
	}
	if r.fallback != nil {
		out = append(out, r.fallback.Name())
	}
	return out
}
