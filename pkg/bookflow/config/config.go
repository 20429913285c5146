// Package config loads bookflow configuration from a YAML file with
// environment-variable overrides, and hot-reloads it on file changes.
package config

import (
	"fmt"
	"log/slog"
	"time"

	bferrors "github.com/bookflow/bookflow/pkg/bookflow/errors"
)

// Config is the full bookflow configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Bus      BusConfig      `yaml:"bus"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Log      LogConfig      `yaml:"log"`
}

// StoreConfig selects and tunes the event-store backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend" env:"BOOKFLOW_STORE_BACKEND"`

	// Path is the SQLite database file. Ignored for the memory backend.
	Path string `yaml:"path" env:"BOOKFLOW_STORE_PATH"`
}

// BusConfig tunes event dispatch.
type BusConfig struct {
	// MaxAttempts caps handler retries before dead-lettering.
	MaxAttempts int `yaml:"max_attempts" env:"BOOKFLOW_BUS_MAX_ATTEMPTS"`

	// BaseDelay is the initial handler retry backoff.
	BaseDelay time.Duration `yaml:"base_delay" env:"BOOKFLOW_BUS_BASE_DELAY"`

	// DLQBackend is "memory" or "sqlite".
	DLQBackend string `yaml:"dlq_backend" env:"BOOKFLOW_BUS_DLQ_BACKEND"`

	// DLQPath is the SQLite file for the dead-letter queue.
	DLQPath string `yaml:"dlq_path" env:"BOOKFLOW_BUS_DLQ_PATH"`

	// DLQMaxSize caps in-memory dead-letter entries.
	DLQMaxSize int `yaml:"dlq_max_size" env:"BOOKFLOW_BUS_DLQ_MAX_SIZE"`
}

// RetryPolicy builds the handler retry policy for event.NewBus.
func (c BusConfig) RetryPolicy() bferrors.RetryConfig {
	return bferrors.NewRetryConfig(
		bferrors.WithMaxAttempts(c.MaxAttempts),
		bferrors.WithInitialBackoff(c.BaseDelay),
	)
}

// WorkflowConfig tunes pipeline execution.
type WorkflowConfig struct {
	// StepTimeout bounds one forward step attempt.
	StepTimeout time.Duration `yaml:"step_timeout" env:"BOOKFLOW_WORKFLOW_STEP_TIMEOUT"`

	// RetryMaxAttempts caps transient retries per retryable step.
	RetryMaxAttempts int `yaml:"retry_max_attempts" env:"BOOKFLOW_WORKFLOW_RETRY_MAX_ATTEMPTS"`

	// RetryBaseDelay is the initial step retry backoff.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"BOOKFLOW_WORKFLOW_RETRY_BASE_DELAY"`
}

// RetryPolicy builds the step retry policy for workflow.NewEngine.
func (c WorkflowConfig) RetryPolicy() bferrors.RetryConfig {
	return bferrors.NewRetryConfig(
		bferrors.WithMaxAttempts(c.RetryMaxAttempts),
		bferrors.WithInitialBackoff(c.RetryBaseDelay),
	)
}

// RealtimeConfig tunes the realtime distributor.
type RealtimeConfig struct {
	// ConnBuffer is the per-connection update buffer size.
	ConnBuffer int `yaml:"conn_buffer" env:"BOOKFLOW_REALTIME_CONN_BUFFER"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level" env:"BOOKFLOW_LOG_LEVEL"`
}

// SlogLevel maps the configured level onto slog's scale.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "memory",
			Path:    "bookflow.db",
		},
		Bus: BusConfig{
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			DLQBackend:  "memory",
			DLQPath:     "bookflow-dlq.db",
			DLQMaxSize:  10000,
		},
		Workflow: WorkflowConfig{
			StepTimeout:      10 * time.Second,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   time.Second,
		},
		Realtime: RealtimeConfig{
			ConnBuffer: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.backend must be memory or sqlite, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the sqlite backend")
	}
	switch c.Bus.DLQBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("bus.dlq_backend must be memory or sqlite, got %q", c.Bus.DLQBackend)
	}
	if c.Bus.MaxAttempts < 1 {
		return fmt.Errorf("bus.max_attempts must be at least 1, got %d", c.Bus.MaxAttempts)
	}
	if c.Workflow.RetryMaxAttempts < 1 {
		return fmt.Errorf("workflow.retry_max_attempts must be at least 1, got %d", c.Workflow.RetryMaxAttempts)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	return nil
}

// applyDefaults fills zero-valued fields from Default.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Bus.MaxAttempts == 0 {
		c.Bus.MaxAttempts = def.Bus.MaxAttempts
	}
	if c.Bus.BaseDelay == 0 {
		c.Bus.BaseDelay = def.Bus.BaseDelay
	}
	if c.Bus.DLQBackend == "" {
		c.Bus.DLQBackend = def.Bus.DLQBackend
	}
	if c.Bus.DLQPath == "" {
		c.Bus.DLQPath = def.Bus.DLQPath
	}
	if c.Bus.DLQMaxSize == 0 {
		c.Bus.DLQMaxSize = def.Bus.DLQMaxSize
	}
	if c.Workflow.StepTimeout == 0 {
		c.Workflow.StepTimeout = def.Workflow.StepTimeout
	}
	if c.Workflow.RetryMaxAttempts == 0 {
		c.Workflow.RetryMaxAttempts = def.Workflow.RetryMaxAttempts
	}
	if c.Workflow.RetryBaseDelay == 0 {
		c.Workflow.RetryBaseDelay = def.Workflow.RetryBaseDelay
	}
	if c.Realtime.ConnBuffer == 0 {
		c.Realtime.ConnBuffer = def.Realtime.ConnBuffer
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
