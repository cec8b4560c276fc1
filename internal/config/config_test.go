package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != DefaultAddr || cfg.Database.Driver != DefaultDriver || cfg.Database.Path != DefaultSQLitePath {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Engine.PoolSize != DefaultPoolSize || cfg.Engine.OverloadPolicy != "caller-runs" || cfg.Engine.OverlapPolicy != "allow" {
		t.Fatalf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Engine.ShutdownTimeoutDur != 30*time.Second || cfg.Engine.FallbackDelayDur != time.Hour {
		t.Fatalf("unexpected engine durations %+v", cfg.Engine)
	}
	if cfg.Poller.IntervalDur != 30*time.Second || cfg.Poller.InitialDelayDur != 10*time.Second {
		t.Fatalf("unexpected poller durations %+v", cfg.Poller)
	}
	if cfg.Handlers.Pace == nil || *cfg.Handlers.Pace != DefaultPace {
		t.Fatalf("expected default pace %v, got %v", DefaultPace, cfg.Handlers.Pace)
	}
}

func TestLoadKeepsZeroPace(t *testing.T) {
	cfg, err := Load(writeFile(t, "handlers:\n  pace: 0\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *cfg.Handlers.Pace != 0 {
		t.Fatalf("explicit pace 0 replaced by %v", *cfg.Handlers.Pace)
	}

	t.Setenv("TASKSCHED_HANDLERS_PACE", "0")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *cfg.Handlers.Pace != 0 {
		t.Fatalf("env pace 0 replaced by %v", *cfg.Handlers.Pace)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9090"
database:
  driver: memory
engine:
  pool_size: 4
  overlap_policy: skip-if-running
  shutdown_timeout: 5s
poller:
  interval: 1m
handlers:
  pace: 0.5
  shell_enabled: true
  shell_allowed: [echo, date]
`)
	t.Setenv("TASKSCHED_ENGINE_POOL_SIZE", "6")
	t.Setenv("TASKSCHED_POLLER_INITIAL_DELAY", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Database.Driver != "memory" {
		t.Fatalf("file values not applied %+v", cfg)
	}
	if cfg.Engine.PoolSize != 6 {
		t.Fatalf("env should override pool size, got %d", cfg.Engine.PoolSize)
	}
	if cfg.Engine.OverlapPolicy != "skip-if-running" || cfg.Engine.ShutdownTimeoutDur != 5*time.Second {
		t.Fatalf("unexpected engine %+v", cfg.Engine)
	}
	if cfg.Poller.IntervalDur != time.Minute || cfg.Poller.InitialDelayDur != 2*time.Second {
		t.Fatalf("unexpected poller %+v", cfg.Poller)
	}
	if *cfg.Handlers.Pace != 0.5 || !cfg.Handlers.ShellEnabled || len(cfg.Handlers.ShellAllowed) != 2 {
		t.Fatalf("unexpected handlers %+v", cfg.Handlers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown driver", "database:\n  driver: mongo\n", "unknown driver"},
		{"postgres without url", "database:\n  driver: postgres\n", "database.url"},
		{"bad overload", "engine:\n  overload_policy: drop\n", "overload_policy"},
		{"bad duration", "poller:\n  interval: soon\n", "poller.interval"},
		{"zero interval", "poller:\n  interval: 0s\n", "poller.interval must be > 0"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"negative pace", "handlers:\n  pace: -1\n", "handlers.pace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
