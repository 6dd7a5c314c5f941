// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads the server configuration from an optional YAML file
// overlaid with command-line flags.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/storyengine/internal/logging"
)

// Error codes for configuration failures.
const (
	CodeInvalid = "CONFIG_INVALID"
	CodeLoad    = "CONFIG_LOAD_FAILED"
)

// Queue backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the server configuration. Keys match the flag names.
type Config struct {
	ListenAddr  string `koanf:"listen-addr"`
	MetricsAddr string `koanf:"metrics-addr"`
	LogFormat   string `koanf:"log-format"`
	LogLevel    string `koanf:"log-level"`

	WorldFile     string `koanf:"world-file"`
	ChallengeFile string `koanf:"challenge-file"`

	QueueBackend string `koanf:"queue-backend"`
	SQLitePath   string `koanf:"sqlite-path"`
	DatabaseURL  string `koanf:"database-url"`
	DBMaxConns   int    `koanf:"db-max-conns"`
	AutoMigrate  bool   `koanf:"auto-migrate"`

	QueueRetention       time.Duration `koanf:"queue-retention"`
	QueueCleanupInterval time.Duration `koanf:"queue-cleanup-interval"`
	QueueStaleAfter      time.Duration `koanf:"queue-stale-after"`
	ApprovalExpiry       time.Duration `koanf:"approval-expiry"`

	LLMEndpoint   string        `koanf:"llm-endpoint"`
	LLMModel      string        `koanf:"llm-model"`
	LLMAPIKey     string        `koanf:"llm-api-key"`
	OracleTimeout time.Duration `koanf:"oracle-timeout"`

	LLMConcurrency    int           `koanf:"llm-concurrency"`
	AssetConcurrency  int           `koanf:"asset-concurrency"`
	AssetPollInterval time.Duration `koanf:"asset-poll-interval"`
	NotifyInterval    time.Duration `koanf:"notify-interval"`

	StagingTTLHours   int           `koanf:"staging-ttl-hours"`
	ApprovalTimeout   time.Duration `koanf:"approval-timeout"`
	SchedulerInterval time.Duration `koanf:"scheduler-interval"`

	RateBurst     int      `koanf:"rate-burst"`
	RateSustained float64  `koanf:"rate-sustained"`
	RateExempt    []string `koanf:"rate-exempt"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		ListenAddr:           "127.0.0.1:8080",
		MetricsAddr:          "127.0.0.1:9100",
		LogFormat:            "json",
		LogLevel:             "info",
		QueueBackend:         BackendMemory,
		SQLitePath:           "storyengine-queue.db",
		DBMaxConns:           10,
		QueueRetention:       24 * time.Hour,
		QueueCleanupInterval: 5 * time.Minute,
		QueueStaleAfter:      15 * time.Minute,
		ApprovalExpiry:       30 * time.Minute,
		OracleTimeout:        60 * time.Second,
		LLMConcurrency:       2,
		AssetConcurrency:     1,
		AssetPollInterval:    2 * time.Second,
		NotifyInterval:       5 * time.Second,
		StagingTTLHours:      3,
		ApprovalTimeout:      30 * time.Second,
		SchedulerInterval:    5 * time.Second,
		RateBurst:            10,
		RateSustained:        2,
		RateExempt:           []string{"list_*", "mark_read"},
	}
}

// RegisterFlags defines one flag per key with the default as its value.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("listen-addr", d.ListenAddr, "websocket listen address")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn or error)")
	fs.String("world-file", d.WorldFile, "world map YAML file")
	fs.String("challenge-file", d.ChallengeFile, "challenge catalog YAML file (optional)")
	fs.String("queue-backend", d.QueueBackend, "queue backend (memory, sqlite or postgres)")
	fs.String("sqlite-path", d.SQLitePath, "queue database file for the sqlite backend")
	fs.String("database-url", d.DatabaseURL, "PostgreSQL URL (default: DATABASE_URL)")
	fs.Int("db-max-conns", d.DBMaxConns, "maximum PostgreSQL connections")
	fs.Bool("auto-migrate", d.AutoMigrate, "apply pending migrations on startup")
	fs.Duration("queue-retention", d.QueueRetention, "how long finished queue items are kept")
	fs.Duration("queue-cleanup-interval", d.QueueCleanupInterval, "how often queues are pruned")
	fs.Duration("queue-stale-after", d.QueueStaleAfter, "processing time after which an item is treated as abandoned")
	fs.Duration("approval-expiry", d.ApprovalExpiry, "wait before an unanswered DM approval is dropped")
	fs.String("llm-endpoint", d.LLMEndpoint, "OpenAI-compatible API base URL (empty = no LLM)")
	fs.String("llm-model", d.LLMModel, "model name sent to the LLM endpoint")
	fs.String("llm-api-key", d.LLMAPIKey, "LLM API key")
	fs.Duration("oracle-timeout", d.OracleTimeout, "timeout of one oracle attempt")
	fs.Int("llm-concurrency", d.LLMConcurrency, "LLM requests processed at once")
	fs.Int("asset-concurrency", d.AssetConcurrency, "asset batches processed at once")
	fs.Duration("asset-poll-interval", d.AssetPollInterval, "how often image jobs are polled")
	fs.Duration("notify-interval", d.NotifyInterval, "how often pending approvals are rechecked")
	fs.Int("staging-ttl-hours", d.StagingTTLHours, "default staging lifetime in game hours")
	fs.Duration("approval-timeout", d.ApprovalTimeout, "wait before a staging proposal is auto-approved")
	fs.Duration("scheduler-interval", d.SchedulerInterval, "how often expired proposals are checked")
	fs.Int("rate-burst", d.RateBurst, "messages a player may send in a burst")
	fs.Float64("rate-sustained", d.RateSustained, "messages per second a player may sustain")
	fs.StringSlice("rate-exempt", d.RateExempt, "message type patterns that skip rate limiting")
}

// Load reads path, when set, then applies flags. Flags changed on the
// command line win over the file, which wins over flag defaults. An empty
// database URL falls back to DATABASE_URL.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code(CodeLoad).With("path", path).Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code(CodeLoad).With("operation", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code(CodeLoad).With("operation", "unmarshal").Wrap(err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return invalid("listen-addr", "is required")
	case c.LogFormat != "json" && c.LogFormat != "text":
		return invalid("log-format", "must be 'json' or 'text', got %q", c.LogFormat)
	case c.WorldFile == "":
		return invalid("world-file", "is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log-level", "must be debug, info, warn or error, got %q", c.LogLevel)
	}

	switch c.QueueBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite-path", "is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return invalid("database-url", "is required for the postgres backend")
		}
	default:
		return invalid("queue-backend", "must be memory, sqlite or postgres, got %q", c.QueueBackend)
	}

	if c.LLMEndpoint != "" && c.LLMModel == "" {
		return invalid("llm-model", "is required with llm-endpoint")
	}
	for key, d := range map[string]time.Duration{
		"oracle-timeout":         c.OracleTimeout,
		"asset-poll-interval":    c.AssetPollInterval,
		"notify-interval":        c.NotifyInterval,
		"approval-timeout":       c.ApprovalTimeout,
		"scheduler-interval":     c.SchedulerInterval,
		"queue-retention":        c.QueueRetention,
		"queue-cleanup-interval": c.QueueCleanupInterval,
		"queue-stale-after":      c.QueueStaleAfter,
		"approval-expiry":        c.ApprovalExpiry,
	} {
		if d <= 0 {
			return invalid(key, "must be positive")
		}
	}
	for key, n := range map[string]int{
		"llm-concurrency":   c.LLMConcurrency,
		"asset-concurrency": c.AssetConcurrency,
		"staging-ttl-hours": c.StagingTTLHours,
		"rate-burst":        c.RateBurst,
	} {
		if n <= 0 {
			return invalid(key, "must be positive")
		}
	}
	if c.QueueStaleAfter <= c.OracleTimeout {
		return invalid("queue-stale-after", "must exceed oracle-timeout (%s)", c.OracleTimeout)
	}
	if c.RateSustained <= 0 {
		return invalid("rate-sustained", "must be positive")
	}
	return nil
}

// UsesPostgres reports whether the server needs a database pool.
func (c Config) UsesPostgres() bool {
	return c.QueueBackend == BackendPostgres
}

func invalid(key, format string, args ...any) error {
	return oops.Code(CodeInvalid).With("key", key).Errorf(key+" "+format, args...)
}
