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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.Equal(t, os.Stderr, cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		level     string
		format    Format
		addSource bool
	}{
		{name: "defaults", env: map[string]string{}, level: "info", format: FormatJSON},
		{name: "LOG_LEVEL lowercased", env: map[string]string{"LOG_LEVEL": "WARN"}, level: "warn", format: FormatJSON},
		{name: "RELAY_LOG_LEVEL wins over LOG_LEVEL", env: map[string]string{"LOG_LEVEL": "warn", "RELAY_LOG_LEVEL": "error"}, level: "error", format: FormatJSON},
		{name: "RELAY_DEBUG enables debug and source", env: map[string]string{"RELAY_DEBUG": "1", "RELAY_LOG_LEVEL": "error"}, level: "debug", format: FormatJSON, addSource: true},
		{name: "text format", env: map[string]string{"LOG_FORMAT": "TEXT"}, level: "info", format: FormatText},
		{name: "source flag", env: map[string]string{"LOG_SOURCE": "1"}, level: "info", format: FormatJSON, addSource: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"RELAY_DEBUG", "RELAY_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := FromEnv()
			assert.Equal(t, tt.level, cfg.Level)
			assert.Equal(t, tt.format, cfg.Format)
			assert.Equal(t, tt.addSource, cfg.AddSource)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, parseLevel("trace"))
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestWithTaskContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithTaskContext(WithComponent(logger, "dispatcher"), "task-1", "sync").
		Info("handled", Error(errors.New("boom")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatcher", entry["component"])
	assert.Equal(t, "task-1", entry[TaskIDKey])
	assert.Equal(t, "sync", entry[TaskKindKey])
	assert.Equal(t, "boom", entry["error"])
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatText, Output: &buf})

	logger.Debug("hello", String(SyncIDKey, "S1"))

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "sync_id=S1")
}
