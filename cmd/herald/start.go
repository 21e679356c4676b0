package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/herald/internal/api"
	"github.com/mattjoyce/herald/internal/brain"
	"github.com/mattjoyce/herald/internal/config"
	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/frontend"
	"github.com/mattjoyce/herald/internal/history"
	"github.com/mattjoyce/herald/internal/ipc"
	"github.com/mattjoyce/herald/internal/llm"
	"github.com/mattjoyce/herald/internal/lock"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/metrics"
	"github.com/mattjoyce/herald/internal/orchestrator"
	"github.com/mattjoyce/herald/internal/pool"
	"github.com/mattjoyce/herald/internal/router"
	"github.com/mattjoyce/herald/internal/storage"
	"github.com/mattjoyce/herald/internal/stt"
	"github.com/mattjoyce/herald/internal/timer"
	"github.com/mattjoyce/herald/internal/tts"
	"github.com/mattjoyce/herald/internal/worker"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	noConsole := fs.Bool("no-console", false, "Disable the stdin transcript source")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("herald starting", "version", version, "config", path)

	integrity, err := config.VerifyIntegrity(path)
	if err != nil {
		logger.Error("config integrity check errored", "error", err)
		return 1
	}
	for _, w := range integrity.Warnings {
		logger.Warn("config integrity", "warning", w)
	}
	if !integrity.Passed {
		for _, e := range integrity.Errors {
			logger.Error("config integrity", "error", e)
		}
		return 1
	}

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(256)

	// Brain side: in-process loop over a channel pair, or a subprocess over
	// pipes. The orchestrator and its pool live wherever the brain lives.
	var link ipc.Link
	var stack *brainStack
	switch cfg.Brain.Mode {
	case "subprocess":
		pipe, err := ipc.SpawnBrain("--config", path)
		if err != nil {
			logger.Error("failed to spawn brain subprocess", "error", err)
			return 1
		}
		link = pipe
		logger.Info("brain subprocess spawned")
	default:
		front, back := ipc.NewChanPair(16)
		stack, err = buildBrainStack(ctx, cfg, path, hub)
		if err != nil {
			logger.Error("failed to assemble brain", "error", err)
			return 1
		}
		loop := brain.NewLoop(back, stack.orch, stack.timers)
		go func() {
			if err := loop.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("brain loop failed", "error", err)
			}
		}()
		link = front
	}
	defer link.Close()
	if stack != nil {
		defer stack.close(logger)
	}

	var speaker tts.Speaker = tts.LogSpeaker{}
	if cfg.Speech.Command != "" {
		speaker = tts.NewCommandSpeaker(cfg.Speech.Command, cfg.Speech.Args...)
	}

	var sources []stt.Source
	if !*noConsole {
		sources = append(sources, stt.NewLineSource(os.Stdin))
	}
	src := stt.NewMerged(sources...)

	fe := frontend.New(link, src, speaker, hub)
	fe.ConfigureFollowup(cfg.Followup.Timeout, cfg.Followup.Grace, cfg.Followup.MaxChain)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{Listen: cfg.API.Listen}, src, fe, fe.Machine(), hub, buildRegistry(cfg), log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	feDone := make(chan error, 1)
	go func() {
		feDone <- fe.Run(ctx)
	}()

	logger.Info("herald running (press Ctrl+C to stop)")

	exit := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		<-feDone
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		<-feDone
		exit = 1
	case err := <-feDone:
		if err != nil && err != context.Canceled {
			logger.Error("frontend failed", "error", err)
			exit = 1
		}
		cancel()
	}

	logger.Info("herald stopped")
	return exit
}

func runBrain(args []string) int {
	fs := flag.NewFlagSet("brain", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Logs go to stderr; stdout carries protocol frames.
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("brain-main")
	logger.Info("brain process starting", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack, err := buildBrainStack(ctx, cfg, path, nil)
	if err != nil {
		logger.Error("failed to assemble brain", "error", err)
		return 1
	}
	defer stack.close(logger)

	link := ipc.NewStreamLink(os.Stdin, os.Stdout)
	loop := brain.NewLoop(link, stack.orch, stack.timers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("brain loop failed", "error", err)
		return 1
	}
	logger.Info("brain process stopped")
	return 0
}

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	slot := fs.Int("slot", 0, "Worker slot index")
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Logs go to stderr; stdout carries job responses and heartbeats.
	log.Setup(cfg.Service.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	runner := worker.NewRunner(*slot, buildRegistry(cfg), os.Stdout)
	if err := runner.Run(ctx, os.Stdin); err != nil && err != context.Canceled {
		log.WithComponent("worker-main").Error("worker failed", "slot", *slot, "error", err)
		return 1
	}
	return 0
}

// brainStack is everything the decision side owns: routing, the worker
// pool, timers, and the dispatch history database.
type brainStack struct {
	orch   *orchestrator.Orchestrator
	timers *timer.Service
	pool   *pool.Manager
	db     *sql.DB
}

func buildBrainStack(ctx context.Context, cfg *config.Config, configPath string, hub *events.Hub) (*brainStack, error) {
	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	mgr, err := pool.NewManager(pool.Config{
		Workers:    cfg.Pool.Workers,
		QueueSize:  cfg.Pool.QueueSize,
		JobTimeout: cfg.Pool.JobTimeout,
		Spawn:      pool.SelfSpawn("--config", configPath),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("build worker pool: %w", err)
	}
	mgr.Start()

	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				metrics.PoolPending.Set(float64(mgr.Pending()))
			}
		}
	}()

	registry := buildRegistry(cfg)

	var fallback router.Planner
	var answerer orchestrator.Answerer
	if cfg.LLM.Enabled {
		client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout)
		planner := llm.NewPlanner(client, registry)
		fallback = planner
		answerer = planner
	}

	timers := timer.NewService()

	orch, err := orchestrator.New(orchestrator.Config{
		Router:     router.NewHybrid(registry, fallback),
		Jobs:       mgr,
		Timers:     timers,
		Answerer:   answerer,
		History:    history.NewStore(db),
		Hub:        hub,
		JobTimeout: cfg.Pool.JobTimeout,
	})
	if err != nil {
		mgr.Stop(ctx)
		_ = db.Close()
		return nil, err
	}

	return &brainStack{orch: orch, timers: timers, pool: mgr, db: db}, nil
}

func (s *brainStack) close(logger *slog.Logger) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.pool.Stop(stopCtx)
	s.timers.Stop()
	if err := s.db.Close(); err != nil {
		logger.Warn("closing history database", "error", err)
	}
}

// getPIDLockPath derives the lock path from the history database location.
func getPIDLockPath(cfg *config.Config) string {
	dbPath := cfg.History.Path
	dbDir := filepath.Dir(dbPath)
	dbBase := filepath.Base(dbPath)
	ext := filepath.Ext(dbBase)
	return filepath.Join(dbDir, dbBase[:len(dbBase)-len(ext)]+".pid")
}
