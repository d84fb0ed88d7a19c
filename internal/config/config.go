// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Lock      LockConfig      `mapstructure:"lock"`
	Collector CollectorConfig `mapstructure:"collector"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StoreConfig selects the persistence provider.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifeMins int    `mapstructure:"max_conn_life_mins"`
}

// RedisConfig locates the shared Redis used for locking and queueing.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig selects and sizes the run-request queue.
type QueueConfig struct {
	Provider string `mapstructure:"provider"`
	Depth    int    `mapstructure:"depth"`
	Key      string `mapstructure:"key"`
}

// LockConfig selects the dispatch lock provider.
type LockConfig struct {
	Provider string `mapstructure:"provider"`
}

// CollectorConfig selects and parameterizes the upstream collector.
type CollectorConfig struct {
	Provider  string `mapstructure:"provider"`
	Cookie    string `mapstructure:"cookie"`
	UserAgent string `mapstructure:"user_agent"`
	Referer   string `mapstructure:"referer"`
}

// WorkerConfig governs run-request consumption.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// SchedulerConfig governs schedule scanning.
type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UPLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_life_mins", 30)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("queue.key", "uplens:queue:runs")
	v.SetDefault("lock.provider", "memory")
	v.SetDefault("collector.provider", "stub")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_seconds", 60)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	switch c.Queue.Provider {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	switch c.Lock.Provider {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown lock.provider %q", c.Lock.Provider)
	}
	if (c.Queue.Provider == "redis" || c.Lock.Provider == "redis") && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when a redis provider is selected")
	}
	switch c.Collector.Provider {
	case "live", "stub":
	default:
		return fmt.Errorf("unknown collector.provider %q", c.Collector.Provider)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Scheduler.Enabled && c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.interval_seconds must be > 0")
	}
	return nil
}

// SchedulerInterval converts the configured tick cadence into a duration.
func (c Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}
