package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mediarender/internal/adapters/jobstore/memory"
	"mediarender/internal/adapters/jobstore/redisstore"
	"mediarender/internal/adapters/notify/natsnotify"
	"mediarender/internal/config"
	"mediarender/internal/fonts"
	"mediarender/internal/httpapi"
	"mediarender/internal/httpapi/handlers"
	"mediarender/internal/jobs"
	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/logger"
	"mediarender/internal/pkg/shutdown"
	"mediarender/internal/ports"
	"mediarender/internal/publish"
	"mediarender/internal/sources"
	"mediarender/internal/worker"
	"mediarender/internal/worker/processor"
	"mediarender/internal/worker/renderer"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "renderd: "+err.Error())
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "renderd",
		AddSource:   os.Getenv("LOG_SOURCE") == "true",
	})

	log.Info("starting renderd",
		"workers", cfg.Workers,
		"queue_depth", cfg.QueueDepth,
		"request_timeout", cfg.RequestTimeout.String(),
	)

	ctx := context.Background()

	// Missing binaries are reported but not fatal; /health?deep=true keeps
	// showing them until fixed.
	for _, bin := range []string{cfg.FFmpegBin, cfg.FFprobeBin} {
		if path, err := exec.LookPath(bin); err != nil {
			log.Warn("renderer binary not found", "binary", bin, "error", err.Error())
		} else {
			log.Info("renderer binary found", "binary", bin, "path", path)
		}
	}

	registry, err := fonts.Scan(cfg.Fonts.Dir, log)
	if err != nil {
		log.LogFatal("failed to scan fonts", err, "dir", cfg.Fonts.Dir)
	}
	if _, ok := registry.Resolve(cfg.Fonts.DefaultFamily); !ok {
		log.Warn("default font family is not installed; overlays must name a font",
			"family", cfg.Fonts.DefaultFamily)
	}

	workspaces, err := processor.OpenWorkspaces(cfg.Workspace.Root, log)
	if err != nil {
		log.LogFatal("failed to open workspace root", err, "root", cfg.Workspace.Root)
	}

	srcs, err := sources.Build(ctx, cfg, log)
	if err != nil {
		log.LogFatal("failed to build input sources", err)
	}

	store := newJobStore(ctx, cfg, log)

	var notifier ports.Notifier
	if cfg.NATS.URL != "" {
		n, err := natsnotify.Connect(cfg.NATS.URL, cfg.NATS.Subject, log)
		if err != nil {
			log.LogFatal("failed to connect to NATS", err)
		}
		notifier = n
		log.Info("NATS connected", "subject", cfg.NATS.Subject)
	}

	proc := processor.New(processor.Deps{
		Controller:      renderer.NewExecController(log),
		Prober:          renderer.FFprobe{Binary: cfg.FFprobeBin},
		Sources:         srcs,
		Workspaces:      workspaces,
		FFmpegBin:       cfg.FFmpegBin,
		KillGrace:       cfg.KillGrace,
		MaxInputBytes:   cfg.Limits.MaxInputBytes,
		DiagnosticBytes: cfg.Limits.DiagnosticBytes,
		Log:             log,
	})
	pool := worker.New(worker.Deps{
		Renderer:   proc,
		Workers:    cfg.Workers,
		QueueDepth: cfg.QueueDepth,
		Log:        log,
	})
	publisher := publish.New(log)
	manager := jobs.NewManager(jobs.Deps{
		Pool:      pool,
		Publisher: publisher,
		Store:     store,
		Notifier:  notifier,
		Retention: cfg.Jobs.Retention,
		Log:       log,
	})
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go manager.RunJanitor(janitorCtx, cfg.Jobs.JanitorInterval)

	validator := jobspec.NewValidator(jobspec.ValidatorConfig{
		MediaRoot:     cfg.Media.Root,
		DefaultFamily: cfg.Fonts.DefaultFamily,
		Fonts:         registry,
		Sources:       srcs,
		Limits: jobspec.Limits{
			MaxOverlays:  cfg.Limits.MaxOverlays,
			MaxTextRunes: cfg.Limits.MaxTextRunes,
			MaxTimeout:   cfg.RequestTimeout,
		},
	})

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.Deps{
			Validator:     validator,
			Pool:          pool,
			Publisher:     publisher,
			Jobs:          manager,
			Store:         store,
			Fonts:         registry,
			DefaultFamily: cfg.Fonts.DefaultFamily,
			FFmpegBin:     cfg.FFmpegBin,
			FFprobeBin:    cfg.FFprobeBin,
		},
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxBodyBytes:   cfg.Limits.MaxBodyBytes,
		Log:            log,
	})

	// Renders and event streams can outlive any fixed write timeout.
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	// Handlers run in reverse order: stop accepting, drain the pool,
	// wait for responses, settle async jobs, then close the backends.
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownGrace+cfg.KillGrace+15*time.Second)
	shutdownMgr.Register("workspaces", func(context.Context) error {
		return workspaces.Close()
	})
	shutdownMgr.Register("job-store", func(context.Context) error {
		return store.Close()
	})
	if notifier != nil {
		shutdownMgr.Register("nats", func(context.Context) error {
			return notifier.Close()
		})
	}
	shutdownMgr.Register("jobs", func(ctx context.Context) error {
		stopJanitor()
		return manager.Close(ctx)
	})

	serverDone := make(chan error, 1)
	shutdownMgr.Register("http-drain", func(ctx context.Context) error {
		select {
		case err := <-serverDone:
			return err
		case <-ctx.Done():
			return server.Close()
		}
	})
	shutdownMgr.RegisterBudget("pool", cfg.ShutdownGrace, pool.Close)
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		go func() { serverDone <- server.Shutdown(ctx) }()
		return nil
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait(context.Background())
}

// newJobStore connects the configured job record backend.
func newJobStore(ctx context.Context, cfg *config.Config, log *logger.Logger) ports.JobStore {
	if cfg.Jobs.Store != "redis" {
		log.Info("job store ready", "backend", "memory")
		return memory.New()
	}

	log.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	log.Info("Redis connected")
	return redisstore.New(rdb, cfg.Redis.Prefix+":")
}
