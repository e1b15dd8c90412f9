package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/cache"
	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/internal/engine"
	"inferd/internal/httpapi"
	"inferd/internal/lifecycle"
	"inferd/internal/pressure"
	"inferd/internal/registry"
	"inferd/internal/requestlog"
	"inferd/internal/serving"
	"inferd/pkg/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cfg := config.Default()

	root := &cobra.Command{
		Use:          "inferd",
		Short:        "Local LLM serving daemon",
		Long:         "inferd serves GGUF models over HTTP with request queueing, response caching, and memory-pressure-driven eviction.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				// File values win unless the flag was set explicitly.
				merged := loaded
				if cmd.Flags().Changed("addr") {
					merged.Addr = cfg.Addr
				}
				if cmd.Flags().Changed("models-dir") {
					merged.ModelsDir = cfg.ModelsDir
				}
				if cmd.Flags().Changed("default-model") {
					merged.DefaultModel = cfg.DefaultModel
				}
				if cmd.Flags().Changed("log-level") {
					merged.LogLevel = cfg.LogLevel
				}
				if cmd.Flags().Changed("auto-load") {
					merged.AutoLoadModels = cfg.AutoLoadModels
				}
				if cmd.Flags().Changed("queue-size") {
					merged.Serving.QueueSize = cfg.Serving.QueueSize
				}
				if cmd.Flags().Changed("workers") {
					merged.Serving.Workers = cfg.Serving.Workers
				}
				if cmd.Flags().Changed("memory-budget-mb") {
					merged.Memory.BudgetMB = cfg.Memory.BudgetMB
				}
				if cmd.Flags().Changed("redis-url") {
					merged.Cache.RedisURL = cfg.Cache.RedisURL
				}
				cfg = merged
			}
			return run(cfg)
		},
	}

	if v := os.Getenv("INFERD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("INFERD_MODELS_DIR"); v != "" {
		cfg.ModelsDir = v
	}

	root.Flags().StringVar(&configPath, "config", "", "Path to a yaml/json/toml config file")
	root.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address, e.g. :8080")
	root.Flags().StringVar(&cfg.ModelsDir, "models-dir", cfg.ModelsDir, "Directory to scan for *.gguf model files")
	root.Flags().StringVar(&cfg.DefaultModel, "default-model", cfg.DefaultModel, "Default model id when a request omits model")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	root.Flags().BoolVar(&cfg.AutoLoadModels, "auto-load", cfg.AutoLoadModels, "Load models on first use instead of requiring explicit loads")
	root.Flags().IntVar(&cfg.Serving.QueueSize, "queue-size", cfg.Serving.QueueSize, "Admission queue capacity")
	root.Flags().IntVar(&cfg.Serving.Workers, "workers", cfg.Serving.Workers, "Number of inference workers")
	root.Flags().IntVar(&cfg.Memory.BudgetMB, "memory-budget-mb", cfg.Memory.BudgetMB, "Resident model memory budget in MB (0 = fraction of available)")
	root.Flags().StringVar(&cfg.Cache.RedisURL, "redis-url", cfg.Cache.RedisURL, "Redis URL for the response cache (empty = in-process)")

	return root
}

func run(cfg config.Config) error {
	log := newLogger(cfg.LogLevel)

	dir, err := fsutil.ExpandHome(cfg.ModelsDir)
	if err != nil {
		return fmt.Errorf("models dir: %w", err)
	}
	var reg []types.Model
	if fsutil.PathExists(dir) {
		if reg, err = registry.LoadDir(dir); err != nil {
			return fmt.Errorf("scan models: %w", err)
		}
	} else {
		log.Warn().Str("dir", dir).Msg("models directory does not exist")
	}
	if len(reg) == 0 {
		log.Warn().Str("dir", dir).Msg("no gguf models found")
	}

	loader := engine.NewLlamaLoader(engine.LoadParams{
		CtxSize:   cfg.Engine.CtxSize,
		Threads:   cfg.Engine.Threads,
		Batch:     cfg.Engine.Batch,
		GPULayers: cfg.Engine.GPULayers,
		UseMmap:   cfg.Engine.UseMmap,
		UseMlock:  cfg.Engine.UseMlock,
	})

	var pm *pressure.Manager
	if cfg.Memory.BudgetMB > 0 {
		pm = pressure.NewWithBudget(uint64(cfg.Memory.BudgetMB)<<20, log)
	} else {
		pm = pressure.New(cfg.Memory.BudgetFraction, log)
	}

	coord := lifecycle.New(reg, loader, pm, lifecycle.Config{AutoLoad: cfg.AutoLoadModels}, log)
	defer coord.Close()

	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	var store cache.Store
	if cfg.Cache.RedisURL != "" {
		redisStore, err := cache.NewRedis(cfg.Cache.RedisURL, ttl, log)
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		store = cache.NewMemory(cfg.Cache.MaxSize, ttl)
	}

	sweeper := cache.NewSweeper(store, time.Duration(cfg.Cache.SweepIntervalSeconds)*time.Second, log)
	sweeper.Start()
	defer sweeper.Stop()

	relief := lifecycle.NewReliefLoop(coord, time.Duration(cfg.Memory.CheckIntervalSeconds)*time.Second, log)
	relief.Start()
	defer relief.Stop()

	var rlog requestlog.Writer
	switch cfg.RequestLog.Driver {
	case "":
		rlog = requestlog.NoopWriter{}
	case "sqlite":
		w, err := requestlog.NewSQLiteWriter(cfg.RequestLog.DSN)
		if err != nil {
			return fmt.Errorf("request log: %w", err)
		}
		defer w.Close()
		rlog = w
	case "postgres":
		w, err := requestlog.NewPostgresWriter(cfg.RequestLog.DSN)
		if err != nil {
			return fmt.Errorf("request log: %w", err)
		}
		defer w.Close()
		rlog = w
	default:
		return fmt.Errorf("unknown request log driver %q", cfg.RequestLog.Driver)
	}

	pool := serving.New(serving.Config{
		QueueSize:      cfg.Serving.QueueSize,
		Workers:        cfg.Serving.Workers,
		EnqueueTimeout: time.Duration(cfg.Serving.EnqueueTimeoutMS) * time.Millisecond,
		DefaultModel:   cfg.DefaultModel,
	}, store, coord, rlog, log)
	defer pool.Close()

	svc := serving.NewService(pool, coord, pm)
	svc.SetRescan(func() ([]types.Model, error) { return registry.LoadDir(dir) })

	// Warm models at boot: everything discovered when auto-load is on,
	// otherwise just the default so readiness flips without waiting for
	// traffic.
	go func() {
		if cfg.AutoLoadModels {
			for _, mdl := range reg {
				if err := coord.Load(context.Background(), mdl.ID); err != nil {
					log.Error().Err(err).Str("model", mdl.ID).Msg("startup load failed")
				}
			}
			return
		}
		if cfg.DefaultModel == "" {
			return
		}
		if err := coord.Load(context.Background(), cfg.DefaultModel); err != nil {
			log.Error().Err(err).Str("model", cfg.DefaultModel).Msg("default model load failed")
		}
	}()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)
	if cfg.CORS.Enabled {
		httpapi.SetCORSOptions(true, cfg.CORS.AllowedOrigins,
			[]string{"GET", "POST", "OPTIONS"},
			[]string{"Accept", "Content-Type", "X-Log-Level"})
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", dir).Int("models", len(reg)).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	baseCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
