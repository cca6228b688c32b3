// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads relay configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	relayerrors "github.com/tombee/relay/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Execution modes for the jobs service's remote executor.
const (
	ExecutionModeBlocking = "blocking"
	ExecutionModeAsync    = "async"
)

// Store backend types.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config represents the complete relay configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Runner  RunnerConfig  `yaml:"runner"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Cache   CacheConfig   `yaml:"cache"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is the log format (json, text).
	Format string `yaml:"format"`

	// AddSource adds source file and line to log entries.
	AddSource bool `yaml:"add_source"`
}

// JobsConfig configures the jobs (dispatcher) service.
type JobsConfig struct {
	// Listen is the TCP address of the jobs API.
	// Environment: RELAY_JOBS_LISTEN
	Listen string `yaml:"listen"`

	// RunnerURL is the base URL of the runner service.
	// Environment: RELAY_RUNNER_URL
	RunnerURL string `yaml:"runner_url"`

	// ExecutionMode selects how scripts are handed to the runner: blocking
	// calls /run and waits on the response, async calls /start and waits for
	// the runner's completion report.
	// Environment: RELAY_EXECUTION_MODE
	// Default: blocking
	ExecutionMode string `yaml:"execution_mode"`

	// CompletionTimeout bounds how long an async execution waits for its
	// completion report.
	// Default: 24h
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
}

// RunnerConfig configures the runner (executor) service.
type RunnerConfig struct {
	// Listen is the TCP address of the runner RPC server.
	// Environment: RELAY_RUNNER_LISTEN
	Listen string `yaml:"listen"`

	// ID identifies this runner instance in idle reports.
	// Environment: RELAY_RUNNER_ID
	ID string `yaml:"id"`

	// JobsURL is the base URL of the jobs service for completion reports.
	// Environment: RELAY_JOBS_URL
	JobsURL string `yaml:"jobs_url"`

	// RequestTimeout is the blanket timeout applied to every inbound request.
	// Default: 24h
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// IdleNotifyInterval is the minimum spacing between idle notifications.
	// Default: 30s
	IdleNotifyInterval time.Duration `yaml:"idle_notify_interval"`

	Sandbox SandboxConfig `yaml:"sandbox"`
}

// SandboxConfig configures the process sandbox.
type SandboxConfig struct {
	// Command is the interpreter used to run scripts.
	// Default: node
	Command string `yaml:"command"`

	// Args are passed before the script path.
	Args []string `yaml:"args,omitempty"`

	// ScriptsDir is the root under which script file locations resolve.
	// Environment: RELAY_SCRIPTS_DIR
	ScriptsDir string `yaml:"scripts_dir"`
}

// StoreConfig configures the jobs store backend.
type StoreConfig struct {
	// Type is the backend type (memory, sqlite, postgres).
	// Environment: RELAY_STORE_TYPE
	// Default: memory
	Type string `yaml:"type"`

	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `yaml:"path"`
	WAL  bool   `yaml:"wal"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	// URL is the connection string.
	// Environment: RELAY_POSTGRES_URL
	URL string `yaml:"url"`

	MaxConns int32 `yaml:"max_conns"`
}

// RedisConfig configures the Redis feature flag source. Empty URL disables it.
type RedisConfig struct {
	// Environment: RELAY_REDIS_URL
	URL string `yaml:"url"`
}

// AuthConfig configures service tokens between jobs and runner.
// An empty secret disables authentication.
type AuthConfig struct {
	// Environment: RELAY_AUTH_SECRET
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`

	// Exporter is one of none, stdout, otlp-http, otlp-grpc.
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CacheConfig configures the provider/script config cache.
type CacheConfig struct {
	// ConfigTTL is how long resolved configs stay cached. Zero disables caching.
	ConfigTTL time.Duration `yaml:"config_ttl"`
	Size      int           `yaml:"size"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Jobs: JobsConfig{
			Listen:            ":3005",
			RunnerURL:         "http://localhost:3006",
			ExecutionMode:     ExecutionModeBlocking,
			CompletionTimeout: 24 * time.Hour,
		},
		Runner: RunnerConfig{
			Listen:             ":3006",
			ID:                 "local",
			JobsURL:            "http://localhost:3005",
			RequestTimeout:     24 * time.Hour,
			IdleNotifyInterval: 30 * time.Second,
			Sandbox: SandboxConfig{
				Command:    "node",
				ScriptsDir: "scripts",
			},
		},
		Store: StoreConfig{
			Type: StoreMemory,
			SQLite: SQLiteConfig{
				Path: "relay.db",
				WAL:  true,
			},
			Postgres: PostgresConfig{
				MaxConns: 10,
			},
		},
		Auth: AuthConfig{
			Issuer: "relay",
		},
		Tracing: TracingConfig{
			ServiceName: "relay",
			Exporter:    "none",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			ConfigTTL: 30 * time.Second,
			Size:      1024,
		},
	}
}

// Load loads configuration from the given path (optional), applies defaults
// and environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &relayerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// applyDefaults fills zero values left by a minimal config file.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Jobs.Listen == "" {
		c.Jobs.Listen = d.Jobs.Listen
	}
	if c.Jobs.ExecutionMode == "" {
		c.Jobs.ExecutionMode = d.Jobs.ExecutionMode
	}
	if c.Jobs.CompletionTimeout == 0 {
		c.Jobs.CompletionTimeout = d.Jobs.CompletionTimeout
	}
	if c.Runner.Listen == "" {
		c.Runner.Listen = d.Runner.Listen
	}
	if c.Runner.RequestTimeout == 0 {
		c.Runner.RequestTimeout = d.Runner.RequestTimeout
	}
	if c.Runner.IdleNotifyInterval == 0 {
		c.Runner.IdleNotifyInterval = d.Runner.IdleNotifyInterval
	}
	if c.Runner.Sandbox.Command == "" {
		c.Runner.Sandbox.Command = d.Runner.Sandbox.Command
	}
	if c.Store.Type == "" {
		c.Store.Type = d.Store.Type
	}
	if c.Store.Postgres.MaxConns == 0 {
		c.Store.Postgres.MaxConns = d.Store.Postgres.MaxConns
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = d.Cache.Size
	}
}

// loadFromEnv overrides configuration from RELAY_* environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("RELAY_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}

	if val := os.Getenv("RELAY_JOBS_LISTEN"); val != "" {
		c.Jobs.Listen = val
	}
	if val := os.Getenv("RELAY_RUNNER_URL"); val != "" {
		c.Jobs.RunnerURL = val
	}
	if val := os.Getenv("RELAY_EXECUTION_MODE"); val != "" {
		c.Jobs.ExecutionMode = strings.ToLower(val)
	}
	if val := os.Getenv("RELAY_COMPLETION_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Jobs.CompletionTimeout = d
		}
	}

	if val := os.Getenv("RELAY_RUNNER_LISTEN"); val != "" {
		c.Runner.Listen = val
	}
	if val := os.Getenv("RELAY_RUNNER_ID"); val != "" {
		c.Runner.ID = val
	}
	if val := os.Getenv("RELAY_JOBS_URL"); val != "" {
		c.Runner.JobsURL = val
	}
	if val := os.Getenv("RELAY_RUNNER_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Runner.RequestTimeout = d
		}
	}
	if val := os.Getenv("RELAY_SCRIPTS_DIR"); val != "" {
		c.Runner.Sandbox.ScriptsDir = val
	}

	if val := os.Getenv("RELAY_STORE_TYPE"); val != "" {
		c.Store.Type = strings.ToLower(val)
	}
	if val := os.Getenv("RELAY_SQLITE_PATH"); val != "" {
		c.Store.SQLite.Path = val
	}
	if val := os.Getenv("RELAY_POSTGRES_URL"); val != "" {
		c.Store.Postgres.URL = val
	}
	if val := os.Getenv("RELAY_POSTGRES_MAX_CONNS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Store.Postgres.MaxConns = int32(n)
		}
	}

	if val := os.Getenv("RELAY_REDIS_URL"); val != "" {
		c.Redis.URL = val
	}
	if val := os.Getenv("RELAY_AUTH_SECRET"); val != "" {
		c.Auth.Secret = val
	}

	if val := os.Getenv("RELAY_TRACING_ENABLED"); val != "" {
		c.Tracing.Enabled = parseBool(val)
	}
	if val := os.Getenv("RELAY_TRACING_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
	if val := os.Getenv("RELAY_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = parseBool(val)
	}
}

func parseBool(val string) bool {
	return val == "1" || strings.EqualFold(val, "true")
}
