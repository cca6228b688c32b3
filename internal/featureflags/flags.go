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

// Package featureflags provides the runner feature flags attached to every
// execution request.
package featureflags

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisKey is the hash holding runner flag overrides.
const RedisKey = "relay:flags:runner"

// Flag names, shared by environment variables (upper-cased with a RELAY_
// prefix) and Redis hash fields.
const (
	FlagValidateActionInput  = "validate_action_input"
	FlagValidateActionOutput = "validate_action_output"
	FlagValidateSyncRecords  = "validate_sync_records"
	FlagValidateSyncMetadata = "validate_sync_metadata"
)

// RunnerFlags is the flag snapshot passed to the runner with each execution
// request. It is read-only once fetched.
type RunnerFlags struct {
	ValidateActionInput  bool `json:"validateActionInput"`
	ValidateActionOutput bool `json:"validateActionOutput"`
	ValidateSyncRecords  bool `json:"validateSyncRecords"`
	ValidateSyncMetadata bool `json:"validateSyncMetadata"`
}

func (f *RunnerFlags) set(name string, value bool) {
	switch name {
	case FlagValidateActionInput:
		f.ValidateActionInput = value
	case FlagValidateActionOutput:
		f.ValidateActionOutput = value
	case FlagValidateSyncRecords:
		f.ValidateSyncRecords = value
	case FlagValidateSyncMetadata:
		f.ValidateSyncMetadata = value
	}
}

// Provider returns a fresh flag snapshot. Callers fetch once per task.
type Provider interface {
	RunnerFlags(ctx context.Context) (RunnerFlags, error)
}

// Flags holds process-wide flag defaults with thread-safe access.
type Flags struct {
	mu       sync.RWMutex
	defaults RunnerFlags
}

// FromEnv returns Flags loaded from RELAY_VALIDATE_* environment variables.
func FromEnv() *Flags {
	f := &Flags{}
	f.loadFromEnv()
	return f
}

func (f *Flags) loadFromEnv() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, name := range []string{
		FlagValidateActionInput,
		FlagValidateActionOutput,
		FlagValidateSyncRecords,
		FlagValidateSyncMetadata,
	} {
		if val := os.Getenv("RELAY_" + strings.ToUpper(name)); val != "" {
			f.defaults.set(name, parseBool(val))
		}
	}
}

// Set overrides a default flag value.
func (f *Flags) Set(name string, value bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults.set(name, value)
}

// RunnerFlags returns a copy of the defaults.
func (f *Flags) RunnerFlags(ctx context.Context) (RunnerFlags, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaults, nil
}

// RedisProvider overlays the Redis hash RedisKey on top of the defaults on
// every call. Unreachable Redis falls back to the defaults.
type RedisProvider struct {
	client   redis.UniversalClient
	defaults *Flags
	logger   *slog.Logger
}

// NewRedisProvider creates a provider reading overrides through client.
func NewRedisProvider(client redis.UniversalClient, defaults *Flags, logger *slog.Logger) *RedisProvider {
	if defaults == nil {
		defaults = &Flags{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisProvider{client: client, defaults: defaults, logger: logger}
}

// RunnerFlags implements Provider.
func (p *RedisProvider) RunnerFlags(ctx context.Context) (RunnerFlags, error) {
	flags, _ := p.defaults.RunnerFlags(ctx)

	fields, err := p.client.HGetAll(ctx, RedisKey).Result()
	if err != nil {
		p.logger.Warn("failed to read runner flags from redis, using defaults", "error", err)
		return flags, nil
	}

	for name, val := range fields {
		flags.set(name, parseBool(val))
	}
	return flags, nil
}

// parseBool converts a string to a boolean value.
// Accepts: "1", "t", "T", "true", "TRUE", "True"
func parseBool(val string) bool {
	val = strings.TrimSpace(val)
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return false
}

var (
	_ Provider = (*Flags)(nil)
	_ Provider = (*RedisProvider)(nil)
)
