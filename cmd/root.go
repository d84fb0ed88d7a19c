package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uplens/uplens/internal/clock/system"
	"github.com/uplens/uplens/internal/collector"
	"github.com/uplens/uplens/internal/config"
	"github.com/uplens/uplens/internal/core"
	"github.com/uplens/uplens/internal/logging"
	"github.com/uplens/uplens/internal/runner"
	storeMemory "github.com/uplens/uplens/internal/store/memory"
	storePostgres "github.com/uplens/uplens/internal/store/postgres"
)

var cfgFile string

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app bundles the services one-shot commands need. The long-running server
// has its own entry point under cmd/uplensd.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  core.Store
	runner *runner.Runner
	close  func()
}

// newApp is a variable so tests can swap in a factory with canned services.
var newApp = func(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	clock := system.New()
	var collect core.Collector = collector.NewStub()
	if cfg.Collector.Provider == "live" {
		setting, found, err := store.GetSetting(ctx)
		if err != nil || !found {
			setting = core.DefaultSetting()
		}
		collect = collector.New(collector.Config{
			RateLimitPerSec: setting.RateLimitPerSec,
			RetryTimes:      setting.RetryTimes,
			Timeout:         time.Duration(setting.TimeoutSeconds) * time.Second,
			Cookie:          cfg.Collector.Cookie,
			UserAgent:       cfg.Collector.UserAgent,
			Referer:         cfg.Collector.Referer,
		}, logger.Named("collector"))
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		runner: runner.New(store, collect, clock, logger.Named("runner")),
		close: func() {
			closeStore()
			_ = logger.Sync()
		},
	}, nil
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

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uplens",
		Short: "Crawl orchestration and hotness classification for video keyword tasks.",
		Long: `uplens collects search results for configured keyword tasks, enriches
and classifies each video against the task's hotness rules, and persists the
outcome. This CLI runs one-shot operations against the configured store; the
long-running scheduler/API service is the uplensd binary.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app); ok && appInstance != nil {
				appInstance.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newRunCmd())

	return cmd
}

// Execute is the CLI entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
