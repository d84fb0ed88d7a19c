// Package main wires together the uplens service binary.
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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/uplens/uplens/internal/api"
	"github.com/uplens/uplens/internal/clock/system"
	"github.com/uplens/uplens/internal/collector"
	"github.com/uplens/uplens/internal/config"
	"github.com/uplens/uplens/internal/core"
	"github.com/uplens/uplens/internal/dispatcher"
	"github.com/uplens/uplens/internal/lock/memlock"
	"github.com/uplens/uplens/internal/lock/redislock"
	"github.com/uplens/uplens/internal/logging"
	queueMemory "github.com/uplens/uplens/internal/queue/memory"
	"github.com/uplens/uplens/internal/queue/redisq"
	"github.com/uplens/uplens/internal/runner"
	"github.com/uplens/uplens/internal/scheduler"
	storeMemory "github.com/uplens/uplens/internal/store/memory"
	storePostgres "github.com/uplens/uplens/internal/store/postgres"
	"github.com/uplens/uplens/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer cleanup()

	var redisClient *redis.Client
	if cfg.Queue.Provider == "redis" || cfg.Lock.Provider == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer redisClient.Close()
	}

	var queue core.Queue
	var closeQueue func()
	if cfg.Queue.Provider == "redis" {
		queue = redisq.NewQueue(redisClient, cfg.Queue.Key)
		closeQueue = func() {}
	} else {
		memQueue := queueMemory.NewQueue(cfg.Queue.Depth)
		queue = memQueue
		closeQueue = memQueue.Close
	}

	var locks core.LockStore
	if cfg.Lock.Provider == "redis" {
		locks = redislock.New(redisClient)
	} else {
		locks = memlock.New()
	}

	clock := system.New()
	collect := buildCollector(ctx, cfg, store, logger)
	run := runner.New(store, collect, clock, logger.Named("runner"))

	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			store,
			run,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(store, dispatch, run, clock, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Concurrency))
		dispatch.Run(ctx)
	}()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(store, queue, locks, clock,
			logger.Named("scheduler"), cfg.SchedulerInterval())
		go func() {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler stopped with error", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	closeQueue()
}

func buildStore(ctx context.Context, cfg config.Config) (core.Store, func(), error) {
	if cfg.Store.Provider == "postgres" {
		pg, err := storePostgres.New(ctx, storePostgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifeMins) * time.Minute,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Bootstrap(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	return storeMemory.New(), func() {}, nil
}

// buildCollector selects the upstream client. The persisted system setting
// seeds the live client's pacing knobs; the runner refreshes them from the
// store at the start of every run.
func buildCollector(ctx context.Context, cfg config.Config, store core.Store, logger *zap.Logger) core.Collector {
	if cfg.Collector.Provider != "live" {
		logger.Info("using stub collector")
		return collector.NewStub()
	}
	setting, found, err := store.GetSetting(ctx)
	if err != nil || !found {
		if err != nil {
			logger.Warn("load system setting failed, using defaults", zap.Error(err))
		}
		setting = core.DefaultSetting()
	}
	return collector.New(collector.Config{
		RateLimitPerSec: setting.RateLimitPerSec,
		RetryTimes:      setting.RetryTimes,
		Timeout:         time.Duration(setting.TimeoutSeconds) * time.Second,
		Cookie:          cfg.Collector.Cookie,
		UserAgent:       cfg.Collector.UserAgent,
		Referer:         cfg.Collector.Referer,
	}, logger.Named("collector"))
}
