// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New builds a Config with defaults; Load layers file and env on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/scoring"
)

// Supported values for enumerated keys.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	NotifierLog   = "log"
	NotifierRedis = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DBDriver is sqlite3, postgres or memory.
	DBDriver string `koanf:"db_driver"`

	// DBDSN is passed to sql.Open for the sqlite3 and postgres drivers.
	DBDSN string `koanf:"db_dsn"`

	// ScoreWindow is how far back trust events count toward the score.
	ScoreWindow time.Duration `koanf:"score_window"`

	// OverdueAfter is the age past which a pending payment is overdue.
	OverdueAfter time.Duration `koanf:"overdue_after"`

	// OverduePenalty is the impact of a payment_overdue event.
	OverduePenalty int `koanf:"overdue_penalty"`

	// SweepInterval runs the sweep in-process when positive.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// SweepBatchSize caps payments handled per sweep run.
	SweepBatchSize int `koanf:"sweep_batch_size"`

	// SweepTimeout bounds a single sweep run.
	SweepTimeout time.Duration `koanf:"sweep_timeout"`

	// CronSecret guards POST /cron/overdue-payments. Empty disables the trigger.
	CronSecret string `koanf:"cron_secret"`

	// AdminToken guards /admin routes. Empty disables them.
	AdminToken string `koanf:"admin_token"`

	// RescoreQueueSize bounds the in-memory rescore queue.
	RescoreQueueSize int `koanf:"rescore_queue_size"`

	// RescoreWorkers sets the number of rescore workers.
	RescoreWorkers int `koanf:"rescore_workers"`

	// DedupeSize sets the size of the rescore coalescing cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Notifier is log or redis.
	Notifier string `koanf:"notifier"`

	// RedisAddr and RedisChannel configure the redis notifier.
	RedisAddr    string `koanf:"redis_addr"`
	RedisChannel string `koanf:"redis_channel"`

	// Impacts maps event types to their default impact.
	Impacts map[string]int `koanf:"impacts"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		DBDriver:         DriverSQLite,
		DBDSN:            "file:gigtrust.db?_foreign_keys=on&_busy_timeout=5000",
		ScoreWindow:      7 * 24 * time.Hour,
		OverdueAfter:     24 * time.Hour,
		OverduePenalty:   -30,
		SweepInterval:    0,
		SweepBatchSize:   500,
		SweepTimeout:     2 * time.Minute,
		RescoreQueueSize: 10_000,
		RescoreWorkers:   runtime.NumCPU() * 2,
		DedupeSize:       100_000,
		Notifier:         NotifierLog,
		RedisAddr:        "localhost:6379",
		RedisChannel:     "gigtrust:notifications",
		Impacts:          scoring.DefaultImpacts(),
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.ScoreWindow <= 0:
		return fmt.Errorf("%w: score_window must be positive", ErrInvalidConfig)
	case c.OverdueAfter <= 0:
		return fmt.Errorf("%w: overdue_after must be positive", ErrInvalidConfig)
	case c.OverduePenalty >= 0:
		return fmt.Errorf("%w: overdue_penalty must be negative", ErrInvalidConfig)
	case c.OverduePenalty < -model.MaxImpact:
		return fmt.Errorf("%w: overdue_penalty must not be below -%d", ErrInvalidConfig, model.MaxImpact)
	case c.SweepInterval < 0:
		return fmt.Errorf("%w: sweep_interval must not be negative", ErrInvalidConfig)
	case c.SweepBatchSize <= 0:
		return fmt.Errorf("%w: sweep_batch_size must be positive", ErrInvalidConfig)
	case c.SweepTimeout <= 0:
		return fmt.Errorf("%w: sweep_timeout must be positive", ErrInvalidConfig)
	case c.RescoreQueueSize <= 0:
		return fmt.Errorf("%w: rescore_queue_size must be positive", ErrInvalidConfig)
	case c.RescoreWorkers <= 0:
		return fmt.Errorf("%w: rescore_workers must be positive", ErrInvalidConfig)
	case c.DedupeSize <= 0:
		return fmt.Errorf("%w: dedupe_size must be positive", ErrInvalidConfig)
	}

	for name, impact := range c.Impacts {
		if impact > model.MaxImpact || impact < -model.MaxImpact {
			return fmt.Errorf("%w: impacts.%s must be within [-%d, %d]", ErrInvalidConfig, name, model.MaxImpact, model.MaxImpact)
		}
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}

	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("%w: db_dsn is required for %s", ErrInvalidConfig, c.DBDriver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown db_driver %q", ErrInvalidConfig, c.DBDriver)
	}

	switch c.Notifier {
	case NotifierLog:
	case NotifierRedis:
		if c.RedisAddr == "" || c.RedisChannel == "" {
			return fmt.Errorf("%w: redis notifier needs redis_addr and redis_channel", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown notifier %q", ErrInvalidConfig, c.Notifier)
	}
	return nil
}
