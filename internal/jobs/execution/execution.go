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

// Package execution defines the contract between the dispatcher and the
// execution engine, and the remote executor that drives a runner.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/tombee/relay/internal/featureflags"
	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/task"
)

// ScriptType is the kind of script a runner executes.
type ScriptType string

const (
	ScriptSync           ScriptType = "sync"
	ScriptAction         ScriptType = "action"
	ScriptWebhook        ScriptType = "webhook"
	ScriptPostConnection ScriptType = "post-connection-script"
)

// Request is everything a runner needs to execute one script.
type Request struct {
	TaskID           string                   `json:"taskId,omitempty"`
	Connection       task.Connection          `json:"connection"`
	ScriptConfig     store.ScriptConfig       `json:"scriptConfig"`
	SyncType         store.SyncType           `json:"syncType"`
	SyncID           string                   `json:"syncId,omitempty"`
	SyncJobID        string                   `json:"syncJobId,omitempty"`
	ActivityLogID    string                   `json:"activityLogId,omitempty"`
	LastSyncDate     *time.Time               `json:"lastSyncDate,omitempty"`
	Input            json.RawMessage          `json:"input,omitempty"`
	Provider         string                   `json:"provider"`
	Debug            bool                     `json:"debug"`
	IsAction         bool                     `json:"isAction"`
	IsWebhook        bool                     `json:"isWebhook"`
	IsPostConnection bool                     `json:"isPostConnectionScript"`
	RunnerFlags      featureflags.RunnerFlags `json:"runnerFlags"`
}

// ScriptType derives the script kind from the request flags.
func (r Request) ScriptType() ScriptType {
	switch {
	case r.IsPostConnection:
		return ScriptPostConnection
	case r.IsWebhook:
		return ScriptWebhook
	case r.IsAction:
		return ScriptAction
	default:
		return ScriptSync
	}
}

// ScriptError is a failure reported by the script itself.
type ScriptError struct {
	Type    string          `json:"type,omitempty"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e *ScriptError) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Message
}

// UnmarshalJSON accepts either an error object or a bare string.
func (e *ScriptError) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.Message)
	}
	type plain ScriptError
	return json.Unmarshal(data, (*plain)(e))
}

// Output is the outcome of one script execution.
type Output struct {
	Success  bool            `json:"success"`
	Error    *ScriptError    `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Completion is the out-of-band report a runner sends when a started
// script finishes.
type Completion struct {
	ScriptType ScriptType      `json:"scriptType"`
	Error      *ScriptError    `json:"error,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// Outcome converts the completion into an execution outcome.
func (c Completion) Outcome() *Output {
	return &Output{
		Success:  c.Error == nil,
		Error:    c.Error,
		Response: c.Output,
	}
}

// Executor runs scripts and forwards stop requests.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Output, error)
	Cancel(ctx context.Context, syncID string) error
}

// IsNull reports whether raw is absent or the JSON literal null.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
