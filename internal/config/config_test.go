package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Store.Provider)
	require.Equal(t, "memory", cfg.Queue.Provider)
	require.Equal(t, "memory", cfg.Lock.Provider)
	require.Equal(t, "stub", cfg.Collector.Provider)
	require.Equal(t, 2, cfg.Worker.Concurrency)
	require.True(t, cfg.Scheduler.Enabled)
	require.Equal(t, time.Minute, cfg.SchedulerInterval())
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	payload := []byte(`
server:
  port: 9090
store:
  provider: postgres
db:
  dsn: postgres://localhost/uplens
queue:
  provider: redis
lock:
  provider: redis
redis:
  addr: redis:6379
collector:
  provider: live
worker:
  concurrency: 4
`)
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.Store.Provider)
	require.Equal(t, "redis", cfg.Queue.Provider)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, "live", cfg.Collector.Provider)
	require.Equal(t, 4, cfg.Worker.Concurrency)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("UPLENS_SERVER_PORT", "7070")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without dsn", func(c *Config) { c.Store.Provider = "postgres"; c.DB.DSN = "" }},
		{"unknown store provider", func(c *Config) { c.Store.Provider = "dynamo" }},
		{"unknown queue provider", func(c *Config) { c.Queue.Provider = "kafka" }},
		{"unknown collector provider", func(c *Config) { c.Collector.Provider = "scrapy" }},
		{"redis queue without addr", func(c *Config) { c.Queue.Provider = "redis"; c.Redis.Addr = "" }},
		{"zero workers", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"bad scheduler interval", func(c *Config) { c.Scheduler.IntervalSeconds = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
