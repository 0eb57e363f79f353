// Package config loads the server configuration from a YAML file, an optional
// .env file and environment overrides, in that order of precedence (lowest
// first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultPort             = 8080
	DefaultStaleHours       = 24
	DefaultExpiryWindow     = 30 * 24 * time.Hour
	DefaultExpiryCheckHours = 24
	DefaultStepTimeout      = 10 * time.Second
	DefaultBatchLimit       = 100
	DefaultSweepInterval    = 15 * time.Minute
	DefaultSweepLimit       = 100
	DefaultMaxRounds        = 50
	DefaultMaxOpenConns     = 10
)

// Lock modes for per-decision mutual exclusion
const (
	LockMemory   = "memory"
	LockPostgres = "postgres"
	LockNone     = "none"
)

// Config is the whole server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the persistence backend. An empty URL runs the
// server on the in-memory store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// EvaluationConfig holds the staleness thresholds and orchestrator limits
type EvaluationConfig struct {
	StaleHours       int           `yaml:"stale_hours"`
	ExpiryWindow     time.Duration `yaml:"expiry_window"`
	ExpiryCheckHours int           `yaml:"expiry_check_hours"`

	// StepTimeout bounds each load, score and persist step of one evaluation
	StepTimeout time.Duration `yaml:"step_timeout"`

	// BatchLimit caps the ids accepted by one batch request
	BatchLimit int `yaml:"batch_limit"`

	// Lock is one of: memory | postgres | none
	Lock string `yaml:"lock"`
}

// SweepConfig controls the periodic staleness sweep
type SweepConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Limit     int           `yaml:"limit"`
	MaxRounds int           `yaml:"max_rounds"`
}

// NotifyConfig lists the webhook targets for lifecycle alerts
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads the YAML file at path. A missing path yields the defaults.
// Environment variables, including those from a .env file in the working
// directory, override the file.
func Load(path string) (*Config, error) {
	// .env is optional; variables already set win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{MaxOpenConns: DefaultMaxOpenConns},
		Evaluation: EvaluationConfig{
			StaleHours:       DefaultStaleHours,
			ExpiryWindow:     DefaultExpiryWindow,
			ExpiryCheckHours: DefaultExpiryCheckHours,
			StepTimeout:      DefaultStepTimeout,
			BatchLimit:       DefaultBatchLimit,
			Lock:             LockMemory,
		},
		Sweep: SweepConfig{
			Enabled:   true,
			Interval:  DefaultSweepInterval,
			Limit:     DefaultSweepLimit,
			MaxRounds: DefaultMaxRounds,
		},
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q is not a number", v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("STALE_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STALE_HOURS %q is not a number", v)
		}
		cfg.Evaluation.StaleHours = hours
	}
	if v := os.Getenv("EVALUATION_LOCK"); v != "" {
		cfg.Evaluation.Lock = v
	}
	return nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port)
	}
	if cfg.Evaluation.StaleHours <= 0 {
		return fmt.Errorf("evaluation.stale_hours must be positive")
	}
	if cfg.Evaluation.ExpiryWindow <= 0 {
		return fmt.Errorf("evaluation.expiry_window must be positive")
	}
	if cfg.Evaluation.ExpiryCheckHours <= 0 {
		return fmt.Errorf("evaluation.expiry_check_hours must be positive")
	}
	if cfg.Evaluation.StepTimeout < 0 {
		return fmt.Errorf("evaluation.step_timeout must not be negative")
	}
	if cfg.Evaluation.BatchLimit <= 0 {
		return fmt.Errorf("evaluation.batch_limit must be positive")
	}
	switch cfg.Evaluation.Lock {
	case LockMemory, LockNone:
	case LockPostgres:
		if cfg.Database.URL == "" {
			return fmt.Errorf("evaluation.lock %q requires database.url", LockPostgres)
		}
	default:
		return fmt.Errorf("evaluation.lock %q unknown: want memory|postgres|none", cfg.Evaluation.Lock)
	}
	if cfg.Sweep.Enabled && cfg.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive when the sweep is enabled")
	}
	if cfg.Sweep.Limit < 0 || cfg.Sweep.MaxRounds < 0 {
		return fmt.Errorf("sweep.limit and sweep.max_rounds must not be negative")
	}
	for i, w := range cfg.Notify.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("notify.webhooks[%d].type %q unknown: want slack|teams|http", i, w.Type)
		}
		if w.URLEnv == "" {
			return fmt.Errorf("notify.webhooks[%d].url_env is required", i)
		}
	}
	return nil
}
