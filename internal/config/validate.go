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
	"fmt"
	"net/url"
	"strings"

	relayerrors "github.com/tombee/relay/pkg/errors"
)

var (
	validLevels    = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validFormats   = map[string]bool{"json": true, "text": true}
	validModes     = map[string]bool{ExecutionModeBlocking: true, ExecutionModeAsync: true}
	validStores    = map[string]bool{StoreMemory: true, StoreSQLite: true, StorePostgres: true}
	validExporters = map[string]bool{"none": true, "stdout": true, "otlp-http": true, "otlp-grpc": true}
)

// Validate checks the configuration for errors. All problems are collected
// into a single *errors.ConfigError.
func (c *Config) Validate() error {
	var errs []string

	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if !validModes[c.Jobs.ExecutionMode] {
		errs = append(errs, fmt.Sprintf("jobs.execution_mode must be one of [blocking, async], got %q", c.Jobs.ExecutionMode))
	}
	if c.Jobs.CompletionTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("jobs.completion_timeout must be positive, got %v", c.Jobs.CompletionTimeout))
	}
	if err := validateURL(c.Jobs.RunnerURL); err != nil {
		errs = append(errs, fmt.Sprintf("jobs.runner_url: %v", err))
	}

	if err := validateURL(c.Runner.JobsURL); err != nil {
		errs = append(errs, fmt.Sprintf("runner.jobs_url: %v", err))
	}
	if c.Runner.RequestTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("runner.request_timeout must be positive, got %v", c.Runner.RequestTimeout))
	}
	if c.Runner.ID == "" {
		errs = append(errs, "runner.id is required")
	}

	if !validStores[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("store.type must be one of [memory, sqlite, postgres], got %q", c.Store.Type))
	}
	if c.Store.Type == StoreSQLite && c.Store.SQLite.Path == "" {
		errs = append(errs, "store.sqlite.path is required for sqlite store")
	}
	if c.Store.Type == StorePostgres && c.Store.Postgres.URL == "" {
		errs = append(errs, "store.postgres.url is required for postgres store")
	}

	if !validExporters[c.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [none, stdout, otlp-http, otlp-grpc], got %q", c.Tracing.Exporter))
	}

	if c.Cache.ConfigTTL < 0 {
		errs = append(errs, fmt.Sprintf("cache.config_ttl must not be negative, got %v", c.Cache.ConfigTTL))
	}
	if c.Cache.Size <= 0 {
		errs = append(errs, fmt.Sprintf("cache.size must be positive, got %d", c.Cache.Size))
	}

	if len(errs) > 0 {
		return &relayerrors.ConfigError{
			Key:    "validation",
			Reason: strings.Join(errs, "; "),
		}
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}
