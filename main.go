package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetscribe/internal/api"
	"meetscribe/internal/auth"
	"meetscribe/internal/config"
	"meetscribe/internal/inbox"
	"meetscribe/internal/intake"
	"meetscribe/internal/logging"
	"meetscribe/internal/metrics"
	"meetscribe/internal/pipeline"
	"meetscribe/internal/redis"
	"meetscribe/internal/results"
	"meetscribe/internal/service/summarize"
	"meetscribe/internal/service/transcribe"
	"meetscribe/internal/storage"
	"meetscribe/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	if err := config.LoadDotEnv(""); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load(os.Getenv(config.ConfigEnv))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logging.InitializeWithConfig(logging.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		log.Fatalf("init logging: %v", err)
	}
	defer logging.Sync()
	logger := logging.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audio, err := intake.New(cfg.Uploads.Dir, cfg.Uploads.MaxUploadBytes)
	if err != nil {
		logger.Fatalw("init upload store", "error", err)
	}
	// anything left from a crashed run is an orphan
	if n, err := audio.Sweep(0); err != nil {
		logger.Warnw("startup sweep failed", "error", err)
	} else if n > 0 {
		logger.Infow("removed orphaned uploads", "count", n)
	}
	audio.StartSweeper(ctx, cfg.Uploads.SweepInterval(), cfg.Uploads.OrphanMaxAge())
	logger.Infow("upload store ready", "dir", audio.Dir(), "max_bytes", audio.MaxBytes())

	transcriber, err := transcribe.New(cfg.Transcribe)
	if err != nil {
		logger.Fatalw("init transcriber", "error", err)
	}
	if err := transcriber.LookPath(); err != nil {
		logger.Warnw("transcriber binary not found, uploads will fail until it is installed", "error", err)
	}

	summarizer, err := summarize.New(ctx, cfg.Summarize)
	if err != nil {
		logger.Fatalw("init summarizer", "error", err)
	}

	var (
		store results.Store
		rdb   *redis.Client
	)
	switch cfg.Results.Backend {
	case "redis":
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Fatalw("create redis client", "error", err)
		}
		defer rdb.Close()
		store, err = results.NewRedisStore(rdb, cfg.Results.TTL())
		if err != nil {
			logger.Fatalw("init redis result store", "error", err)
		}
	default:
		mem := results.NewMemoryStore(cfg.Results.TTL())
		mem.StartJanitor(ctx, time.Minute)
		store = mem
	}

	var (
		db   *sql.DB
		runs *storage.RunStore
	)
	if cfg.Database.Driver != "" {
		db, err = storage.Open(cfg.Database)
		if err != nil {
			logger.Fatalw("open database", "error", err)
		}
		defer db.Close()
		if err := storage.Migrate(db, cfg.Database.Driver); err != nil {
			logger.Fatalw("migrate database", "error", err)
		}
		runs, err = storage.NewRunStore(db)
		if err != nil {
			logger.Fatalw("init run ledger", "error", err)
		}
	}

	m := metrics.New()
	pipeCfg := pipeline.Config{
		Audio:          audio,
		Transcriber:    transcriber,
		Summarizer:     summarizer,
		Results:        store,
		Metrics:        m,
		RequestTimeout: cfg.Pipeline.RequestTimeout(),
		ResultTTL:      cfg.Results.TTL(),
	}
	if runs != nil {
		pipeCfg.Ledger = runs
	}
	p, err := pipeline.New(pipeCfg)
	if err != nil {
		logger.Fatalw("init pipeline", "error", err)
	}

	workers := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.Worker.MinWorkers,
		MaxWorkers:        cfg.Worker.MaxWorkers,
		QueueSize:         cfg.Worker.QueueSize,
		WorkerIdleTimeout: cfg.Worker.IdleTimeout(),
	})
	defer workers.Close()

	opts := api.Options{
		Pipeline:       p,
		Workers:        workers,
		Results:        store,
		Metrics:        m.Handler(),
		MaxUploadBytes: audio.MaxBytes(),
		Ready: func(ctx context.Context) error {
			if rdb != nil {
				if err := rdb.Ping(ctx); err != nil {
					return err
				}
			}
			if db != nil {
				return db.PingContext(ctx)
			}
			return nil
		},
	}
	if runs != nil {
		opts.Runs = runs
	}
	if !cfg.Server.DisableCSRF {
		opts.CSRF = auth.NewCSRF(auth.WithSecureCookie(gin.Mode() == gin.ReleaseMode))
	}
	handlers, err := api.NewHandler(opts)
	if err != nil {
		logger.Fatalw("init handlers", "error", err)
	}

	inboxDone := make(chan struct{})
	if cfg.Inbox.Enabled {
		w, err := inbox.New(cfg.Inbox, p, workers)
		if err != nil {
			logger.Fatalw("init inbox watcher", "error", err)
		}
		go func() {
			defer close(inboxDone)
			defer w.Close()
			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("inbox watcher stopped", "error", err)
			}
		}()
	} else {
		close(inboxDone)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}
	go func() {
		logger.Infow("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Infow("shutting down", "pending_jobs", workers.Pending())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown", "error", err)
	}
	<-inboxDone
}
