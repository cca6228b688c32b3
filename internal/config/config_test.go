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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/tombee/relay/pkg/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LOG_LEVEL", "RELAY_LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
		"RELAY_EXECUTION_MODE", "RELAY_STORE_TYPE", "RELAY_POSTGRES_URL",
		"RELAY_RUNNER_URL", "RELAY_JOBS_URL", "RELAY_AUTH_SECRET", "RELAY_REDIS_URL",
		"RELAY_COMPLETION_TIMEOUT", "RELAY_TRACING_EXPORTER",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ExecutionModeBlocking, cfg.Jobs.ExecutionMode)
	assert.Equal(t, 24*time.Hour, cfg.Runner.RequestTimeout)
	assert.Equal(t, StoreMemory, cfg.Store.Type)
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
jobs:
  execution_mode: async
  completion_timeout: 10m
runner:
  listen: ":9000"
  sandbox:
    command: deno
    args: ["run", "--allow-net"]
store:
  type: sqlite
  sqlite:
    path: /tmp/relay.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ExecutionModeAsync, cfg.Jobs.ExecutionMode)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.CompletionTimeout)
	assert.Equal(t, ":9000", cfg.Runner.Listen)
	assert.Equal(t, "local", cfg.Runner.ID)
	assert.Equal(t, "deno", cfg.Runner.Sandbox.Command)
	assert.Equal(t, []string{"run", "--allow-net"}, cfg.Runner.Sandbox.Args)
	assert.Equal(t, "/tmp/relay.db", cfg.Store.SQLite.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_EXECUTION_MODE", "ASYNC")
	t.Setenv("RELAY_STORE_TYPE", "postgres")
	t.Setenv("RELAY_POSTGRES_URL", "postgres://localhost/relay")
	t.Setenv("RELAY_AUTH_SECRET", "s3cret")
	t.Setenv("RELAY_COMPLETION_TIMEOUT", "90s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ExecutionModeAsync, cfg.Jobs.ExecutionMode)
	assert.Equal(t, StorePostgres, cfg.Store.Type)
	assert.Equal(t, "postgres://localhost/relay", cfg.Store.Postgres.URL)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, 90*time.Second, cfg.Jobs.CompletionTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	var cfgErr *relayerrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "config_file", cfgErr.Key)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "bad execution mode", mutate: func(c *Config) { c.Jobs.ExecutionMode = "later" }, wantErr: "jobs.execution_mode"},
		{name: "postgres without url", mutate: func(c *Config) { c.Store.Type = StorePostgres }, wantErr: "store.postgres.url"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Type = "mongo" }, wantErr: "store.type"},
		{name: "runner url scheme", mutate: func(c *Config) { c.Jobs.RunnerURL = "ftp://runner" }, wantErr: "jobs.runner_url"},
		{name: "zero request timeout", mutate: func(c *Config) { c.Runner.RequestTimeout = 0 }, wantErr: "runner.request_timeout"},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "zipkin" }, wantErr: "tracing.exporter"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var cfgErr *relayerrors.ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}
