package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sumitKumar-19/distributed-task-scheduler/internal/api"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/config"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/engine"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/events"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/handlers"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/metrics"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/scheduler"
	"github.com/sumitKumar-19/distributed-task-scheduler/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("TASKSCHED_CONFIG"), "path to YAML config file")
		addr       = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath     = flag.String("db", "", "SQLite DB path (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	setupLogging(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open store")
	}
	defer st.Close()

	if n, err := st.RecoverInterrupted(ctx, time.Now()); err != nil {
		log.Error().Err(err).Msg("failed to recover interrupted executions")
	} else if n > 0 {
		log.Warn().Int("recovered", n).Msg("marked interrupted executions as failed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		nc, err := events.NewNATS(events.NATSConfig{URL: cfg.Events.NATSURL, SubjectPrefix: cfg.Events.SubjectPrefix})
		if err != nil {
			log.Fatal().Err(err).Msg("connect event publisher")
		}
		publisher = nc
		log.Info().Str("subject_prefix", cfg.Events.SubjectPrefix).Msg("publishing execution events to NATS")
	}
	defer publisher.Close()

	// Handlers registry
	registry, err := handlers.Builtin(handlers.BuiltinOptions{
		Pace:         *cfg.Handlers.Pace,
		Probes:       []handlers.Probe{{Name: "store", Check: st.Ping}},
		EnableShell:  cfg.Handlers.ShellEnabled,
		ShellAllowed: cfg.Handlers.ShellAllowed,
		EnableHTTP:   cfg.Handlers.HTTPEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("register handlers")
	}
	log.Info().Strs("handlers", registry.Names()).Msg("handlers registered")

	eng := engine.New(engine.Config{
		PoolSize:      cfg.Engine.PoolSize,
		QueueSize:     cfg.Engine.QueueSize,
		Overload:      engine.OverloadPolicy(cfg.Engine.OverloadPolicy),
		Overlap:       engine.OverlapPolicy(cfg.Engine.OverlapPolicy),
		TrackRetries:  cfg.Engine.TrackRetries,
		FallbackDelay: cfg.Engine.FallbackDelayDur,
	}, st, st, registry, engine.WithMetrics(m), engine.WithPublisher(publisher))
	if err := eng.Start(); err != nil {
		log.Fatal().Err(err).Msg("start engine")
	}

	poller := scheduler.NewPoller(scheduler.Config{
		Interval:     cfg.Poller.IntervalDur,
		InitialDelay: cfg.Poller.InitialDelayDur,
	}, st, eng, scheduler.WithMetrics(m))
	poller.Start(ctx)

	// HTTP server
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServerWithOptions(st, eng, api.Options{
			Debug:    cfg.Server.Debug,
			Metrics:  m,
			Gatherer: reg,
		}),
		ReadTimeout:  cfg.Server.ReadTimeoutDur,
		WriteTimeout: cfg.Server.WriteTimeoutDur,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	poller.Stop()
	if err := eng.Shutdown(cfg.Engine.ShutdownTimeoutDur); err != nil {
		log.Error().Err(err).Msg("engine shutdown")
	}
	cancel()

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store, tasks are lost on exit")
		return store.NewMemory(), nil
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		db, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store.NewSQLiteStore(db), nil
	}
}
