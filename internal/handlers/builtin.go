package handlers

import (
	httphandler "github.com/sumitKumar-19/distributed-task-scheduler/internal/handlers/http"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/handlers/shell"
)

type BuiltinOptions struct {
	// Pace scales the delays of the simulated handlers; 1 is real time.
	Pace         float64
	Probes       []Probe
	EnableShell  bool
	ShellAllowed []string
	EnableHTTP   bool
}

// Builtin returns a registry holding the stock handlers with DEFAULT as
// the catch-all.
func Builtin(opts BuiltinOptions) (*Registry, error) {
	r := NewRegistry(NewDefault(opts.Pace))
	hs := []Handler{
		NewEmail(opts.Pace),
		NewReport(opts.Pace),
		NewCleanup(opts.Pace),
		NewHealthCheck(opts.Pace, opts.Probes...),
	}
	if opts.EnableShell {
		hs = append(hs, shell.Shell{Allowed: opts.ShellAllowed})
	}
	if opts.EnableHTTP {
		hs = append(hs, httphandler.HTTP{})
	}
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}
